// Package config loads service configuration from defaults, an optional
// .env file and GATEHOUSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variable names before they are
// mapped to config keys: GATEHOUSE_TOKEN_ACCESS_SECRET -> token.access_secret.
const EnvPrefix = "GATEHOUSE_"

type Config struct {
	Env      string         `koanf:"env" validate:"oneof=development production test"`
	HTTP     HTTPConfig     `koanf:"http"`
	GRPC     GRPCConfig     `koanf:"grpc"`
	Database DatabaseConfig `koanf:"database"`
	Token    TokenConfig    `koanf:"token"`
	Security SecurityConfig `koanf:"security"`
	Log      LogConfig      `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"min=1024"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitRPS    float64       `koanf:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst  int           `koanf:"rate_limit_burst" validate:"min=1"`
	AuthRPS         float64       `koanf:"auth_rps" validate:"gt=0"`
	AuthBurst       int           `koanf:"auth_burst" validate:"min=1"`
	TrustedProxies  []string      `koanf:"trusted_proxies" validate:"dive,cidr|ip"`
}

type GRPCConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	QueryTimeout    time.Duration `koanf:"query_timeout" validate:"gt=0"`
}

type TokenConfig struct {
	AccessSecret  string        `koanf:"access_secret" validate:"required,min=32"`
	RefreshSecret string        `koanf:"refresh_secret" validate:"required,min=32,nefield=AccessSecret"`
	AccessTTL     time.Duration `koanf:"access_ttl" validate:"gt=0,ltfield=RefreshTTL"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl" validate:"gt=0"`
	Issuer        string        `koanf:"issuer"`
}

type SecurityConfig struct {
	BcryptCost  int    `koanf:"bcrypt_cost" validate:"min=10,max=14"`
	HashAPIKeys bool   `koanf:"hash_api_keys"`
	DefaultRole string `koanf:"default_role" validate:"required"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used for every key the environment does
// not set. Secrets and the DSN have no default.
func Default() Config {
	return Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
			AuthRPS:         1,
			AuthBurst:       5,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			QueryTimeout:    5 * time.Second,
		},
		Token: TokenConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "gatehouse",
		},
		Security: SecurityConfig{
			BcryptCost:  12,
			DefaultRole: "user",
		},
		Log: LogConfig{Level: "info"},
	}
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool { return c.Env == "production" }

type loadOptions struct {
	dotenv  string
	environ func() []string
}

// LoadOption adjusts Load.
type LoadOption func(*loadOptions)

// WithDotEnv reads path before the process environment. A missing file is
// not an error.
func WithDotEnv(path string) LoadOption {
	return func(o *loadOptions) { o.dotenv = path }
}

// WithEnviron replaces os.Environ as the variable source.
func WithEnviron(fn func() []string) LoadOption {
	return func(o *loadOptions) { o.environ = fn }
}

// Load builds and validates the configuration. Process variables override
// the .env file, which overrides Default.
func Load(opts ...LoadOption) (*Config, error) {
	o := loadOptions{dotenv: ".env", environ: os.Environ}
	for _, opt := range opts {
		opt(&o)
	}

	environ, err := withDotEnv(o.dotenv, o.environ())
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnvKey,
		EnvironFunc:   func() []string { return environ },
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the ranges and cross-field rules of cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// transformEnvKey maps TOKEN_ACCESS_SECRET to token.access_secret: the first
// segment names the section and the rest the field.
func transformEnvKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' })
	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], value
	}
	return parts[0] + "." + strings.Join(parts[1:], "_"), value
}

func withDotEnv(path string, environ []string) ([]string, error) {
	if path == "" {
		return environ, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return environ, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	merged := make([]string, 0, len(vars)+len(environ))
	for k, v := range vars {
		merged = append(merged, k+"="+v)
	}
	return append(merged, environ...), nil
}
