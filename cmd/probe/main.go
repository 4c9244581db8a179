// Command probe checks the gRPC health service of a running gatehouse and
// exits non-zero unless it reports SERVING.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gatehouse.dev/internal/grpcapi"
)

func main() {
	var (
		addr    = flag.String("addr", "localhost:9090", "gRPC address")
		service = flag.String("service", grpcapi.ServiceName, "Health service name")
		timeout = flag.Duration("timeout", 3*time.Second, "Probe deadline")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := grpcapi.Probe(ctx, *addr, *service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe %s: %v\n", *addr, err)
		os.Exit(2)
	}
	fmt.Println(st)
	if st != healthpb.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}
