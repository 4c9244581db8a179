package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/catalog"
	"gatehouse.dev/internal/gate"
	"gatehouse.dev/internal/obs"
	"gatehouse.dev/internal/repository"
)

const serviceName = "gatehouse"

// AuthService is the credential and API key surface.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (auth.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error)
	Profile(ctx context.Context, principalID string) (auth.Profile, error)
	GenerateAPIKey(ctx context.Context, principalID string, in auth.APIKeyInput) (auth.IssuedAPIKey, error)
	ListAPIKeys(ctx context.Context, principalID string) ([]auth.APIKey, error)
	DeactivateAPIKey(ctx context.Context, principalID, keyID string) error
	RotateAPIKey(ctx context.Context, principalID, keyID string) (auth.IssuedAPIKey, error)
}

// AdminService administers users, roles and permissions.
type AdminService interface {
	ListUsers(ctx context.Context, q auth.UserQuery) (repository.Page[auth.Principal], error)
	GetUser(ctx context.Context, id string) (*auth.Principal, error)
	UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (*auth.Principal, error)
	DeleteUser(ctx context.Context, id string) error
	AssignRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
	ListRoles(ctx context.Context) ([]auth.Role, error)
	CreateRole(ctx context.Context, in auth.CreateRoleInput) (*auth.Role, error)
	SetRolePermissions(ctx context.Context, roleID string, perms []string) error
	ListPermissions(ctx context.Context) ([]auth.Permission, error)
}

// ProductService is the catalog surface.
type ProductService interface {
	List(ctx context.Context, q catalog.ProductQuery) (repository.Page[catalog.Product], error)
	Get(ctx context.Context, id string) (*catalog.Product, error)
	Create(ctx context.Context, in catalog.ProductInput) (*catalog.Product, error)
	Update(ctx context.Context, id string, upd catalog.ProductUpdate) (*catalog.Product, error)
	Delete(ctx context.Context, id string) error
	Import(ctx context.Context, items []catalog.ProductImport) ([]catalog.Product, error)
}

// Gatekeeper authenticates and authorizes requests.
type Gatekeeper interface {
	Authenticate(ctx context.Context, c gate.Credentials) (gate.Identity, error)
	Authorize(ctx context.Context, id gate.Identity, req gate.Requirement) error
}

// ReadyChecker reports whether the backing store answers.
type ReadyChecker interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Auth     AuthService
	Admin    AdminService
	Products ProductService
	Gate     Gatekeeper
	Ready    ReadyChecker
	Logger   *zap.Logger
	Version  string
}

// Options tune the middleware chain. Zero values take defaults.
type Options struct {
	MaxBodyBytes   int64
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	AuthRPS        float64
	AuthBurst      int
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string
}

func (o Options) withDefaults() Options {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.RateLimitRPS <= 0 {
		o.RateLimitRPS = 50
	}
	if o.RateLimitBurst <= 0 {
		o.RateLimitBurst = 100
	}
	if o.AuthRPS <= 0 {
		o.AuthRPS = 1
	}
	if o.AuthBurst <= 0 {
		o.AuthBurst = 5
	}
	return o
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	auth     AuthService
	admin    AdminService
	products ProductService
	gate     Gatekeeper
	ready    ReadyChecker
	logger   *zap.Logger
	version  string
	opts     Options
	proxies  *TrustedProxies
}

func New(deps Deps, opts Options) (*API, error) {
	if deps.Auth == nil || deps.Admin == nil || deps.Products == nil || deps.Gate == nil {
		return nil, errors.New("httpapi: auth, admin, products and gate are required")
	}
	proxies, err := ParseTrustedProxies(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		mux:      http.NewServeMux(),
		auth:     deps.Auth,
		admin:    deps.Admin,
		products: deps.Products,
		gate:     deps.Gate,
		ready:    deps.Ready,
		logger:   deps.Logger,
		version:  deps.Version,
		opts:     opts.withDefaults(),
		proxies:  proxies,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.readyz)
	a.mux.Handle("GET /metrics", obs.Handler())

	strict := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, a.opts.AuthBurst, a.opts.AuthRPS, a.proxies)
	}
	a.mux.Handle("POST /v1/auth/register", strict(a.register))
	a.mux.Handle("POST /v1/auth/login", strict(a.login))
	a.mux.HandleFunc("POST /v1/auth/refresh", a.refresh)

	a.mux.Handle("GET /v1/auth/me", a.guard(gate.Permissions(auth.PermProfileView), a.me))
	a.mux.Handle("GET /v1/auth/api-keys", a.guard(gate.Permissions(auth.PermAPIKeysView), a.listAPIKeys))
	a.mux.Handle("POST /v1/auth/api-keys", a.guard(gate.Permissions(auth.PermAPIKeysCreate), a.createAPIKey))
	a.mux.Handle("DELETE /v1/auth/api-keys/{id}", a.guard(gate.Permissions(auth.PermAPIKeysDelete), a.deleteAPIKey))
	a.mux.Handle("POST /v1/auth/api-keys/{id}/rotate", a.guard(gate.Permissions(auth.PermAPIKeysCreate), a.rotateAPIKey))

	a.mux.Handle("GET /v1/users", a.guard(gate.Permissions(auth.PermUsersView), a.listUsers))
	a.mux.Handle("GET /v1/users/{id}", a.guard(gate.Permissions(auth.PermUsersView), a.getUser))
	a.mux.Handle("PATCH /v1/users/{id}", a.guard(gate.Permissions(auth.PermUsersEdit), a.updateUser))
	a.mux.Handle("DELETE /v1/users/{id}", a.guard(gate.Permissions(auth.PermUsersDelete), a.deleteUser))
	admins := gate.Roles(auth.RoleSuperAdmin, auth.RoleAdmin)
	a.mux.Handle("POST /v1/users/{id}/roles", a.guard(admins, a.assignRole))
	a.mux.Handle("DELETE /v1/users/{id}/roles/{slug}", a.guard(admins, a.revokeRole))

	a.mux.Handle("GET /v1/roles", a.guard(gate.Permissions(auth.PermRolesView), a.listRoles))
	a.mux.Handle("POST /v1/roles", a.guard(gate.Permissions(auth.PermRolesCreate), a.createRole))
	a.mux.Handle("PUT /v1/roles/{id}/permissions", a.guard(gate.Permissions(auth.PermPermissionsAssign), a.setRolePermissions))
	a.mux.Handle("GET /v1/permissions", a.guard(gate.Permissions(auth.PermPermissionsView), a.listPermissions))

	a.mux.Handle("GET /v1/products", a.guard(gate.Permissions(auth.PermProductsView), a.listProducts))
	a.mux.Handle("GET /v1/products/{id}", a.guard(gate.Permissions(auth.PermProductsView), a.getProduct))
	a.mux.Handle("POST /v1/products", a.guard(gate.Permissions(auth.PermProductsCreate), a.createProduct))
	a.mux.Handle("POST /v1/products/import", a.guard(gate.Permissions(auth.PermProductsEdit), a.importProducts))
	a.mux.Handle("PATCH /v1/products/{id}", a.guard(gate.Permissions(auth.PermProductsEdit), a.updateProduct))
	a.mux.Handle("DELETE /v1/products/{id}", a.guard(gate.Permissions(auth.PermProductsDelete), a.deleteProduct))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitRPS, a.proxies)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = CORS(h, a.opts.CORSOrigins)
	h = SecurityHeaders(h)
	h = Logging(a.logger, a.proxies)(h)
	h = Recover(a.logger)(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready.Ping(r.Context()); err != nil {
			obs.SetReady(false)
			a.logger.Warn("readiness probe failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
