package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/catalog"
	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/gate"
	"gatehouse.dev/internal/repository"
)

const (
	testAccessSecret  = "http-access-secret-http-access-secret"
	testRefreshSecret = "http-refresh-secret-http-refresh-secret"
)

type stubKeys map[string]*auth.Principal

func (s stubKeys) ResolveAPIKey(_ context.Context, key string) (*auth.Principal, error) {
	if p, ok := s[key]; ok {
		return p, nil
	}
	return nil, errs.Deny(errs.InvalidToken, nil)
}

type stubMembers struct {
	roles map[string][]auth.RoleSlug
	perms map[string][]auth.PermissionSlug
	err   error
}

func (s *stubMembers) HasAnyRole(_ context.Context, id string, roles ...auth.RoleSlug) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, held := range s.roles[id] {
		for _, want := range roles {
			if held == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *stubMembers) HasAnyPermission(_ context.Context, id string, perms ...auth.PermissionSlug) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, held := range s.perms[id] {
		for _, want := range perms {
			if held == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *stubMembers) PrimaryRole(_ context.Context, id string) (auth.RoleSlug, error) {
	return auth.PrimaryRole(s.roles[id]), s.err
}

type stubAuth struct {
	registerFn func(context.Context, auth.RegisterInput) (auth.AuthResult, error)
	loginFn    func(context.Context, auth.LoginInput) (auth.AuthResult, error)
	refreshFn  func(context.Context, string) (auth.TokenPair, error)
	profileFn  func(context.Context, string) (auth.Profile, error)
	keys       []auth.APIKey
	generated  []string
}

func (s *stubAuth) Register(ctx context.Context, in auth.RegisterInput) (auth.AuthResult, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, in)
	}
	return auth.AuthResult{}, errors.New("not configured")
}

func (s *stubAuth) Login(ctx context.Context, in auth.LoginInput) (auth.AuthResult, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, in)
	}
	return auth.AuthResult{}, errors.New("not configured")
}

func (s *stubAuth) Refresh(ctx context.Context, token string) (auth.TokenPair, error) {
	if s.refreshFn != nil {
		return s.refreshFn(ctx, token)
	}
	return auth.TokenPair{}, errors.New("not configured")
}

func (s *stubAuth) Profile(ctx context.Context, id string) (auth.Profile, error) {
	if s.profileFn != nil {
		return s.profileFn(ctx, id)
	}
	return auth.Profile{Principal: &auth.Principal{ID: id}}, nil
}

func (s *stubAuth) GenerateAPIKey(_ context.Context, principalID string, in auth.APIKeyInput) (auth.IssuedAPIKey, error) {
	s.generated = append(s.generated, principalID)
	return auth.IssuedAPIKey{APIKey: auth.APIKey{ID: "k1", UserID: principalID, Name: in.Name, IsActive: true}, Secret: "sk_secret"}, nil
}

func (s *stubAuth) ListAPIKeys(context.Context, string) ([]auth.APIKey, error) {
	return s.keys, nil
}

func (s *stubAuth) DeactivateAPIKey(_ context.Context, principalID, keyID string) error {
	if keyID != "k1" {
		return errs.ErrNotFound
	}
	return nil
}

func (s *stubAuth) RotateAPIKey(_ context.Context, principalID, keyID string) (auth.IssuedAPIKey, error) {
	return auth.IssuedAPIKey{APIKey: auth.APIKey{ID: "k2", UserID: principalID}, Secret: "sk_rotated"}, nil
}

type stubAdmin struct {
	assigned []string
	lastQuery auth.UserQuery
}

func (s *stubAdmin) ListUsers(_ context.Context, q auth.UserQuery) (repository.Page[auth.Principal], error) {
	s.lastQuery = q
	return repository.Page[auth.Principal]{Data: []auth.Principal{}, Meta: repository.PageMeta{Page: 1, Limit: 10}}, nil
}

func (s *stubAdmin) GetUser(_ context.Context, id string) (*auth.Principal, error) {
	return &auth.Principal{ID: id}, nil
}

func (s *stubAdmin) UpdateUser(_ context.Context, id string, _ auth.UserUpdate) (*auth.Principal, error) {
	return &auth.Principal{ID: id}, nil
}

func (s *stubAdmin) DeleteUser(context.Context, string) error { return nil }

func (s *stubAdmin) AssignRole(_ context.Context, userID, role string) error {
	s.assigned = append(s.assigned, userID+":"+role)
	return nil
}

func (s *stubAdmin) RevokeRole(context.Context, string, string) error { return nil }

func (s *stubAdmin) ListRoles(context.Context) ([]auth.Role, error) {
	return []auth.Role{{ID: "r1", Slug: auth.RoleUser}}, nil
}

func (s *stubAdmin) CreateRole(_ context.Context, in auth.CreateRoleInput) (*auth.Role, error) {
	return &auth.Role{ID: "r9", Name: in.Name, Slug: auth.RoleSlug(in.Slug)}, nil
}

func (s *stubAdmin) SetRolePermissions(_ context.Context, _ string, perms []string) error {
	_, err := auth.ParsePermissions(perms)
	return err
}

func (s *stubAdmin) ListPermissions(context.Context) ([]auth.Permission, error) {
	return []auth.Permission{{ID: "perm-users.view", Slug: auth.PermUsersView, Resource: "users", Action: "view"}}, nil
}

type stubProducts struct {
	mu        sync.Mutex
	items     map[string]*catalog.Product
	seq       int
	lastQuery catalog.ProductQuery
}

func newStubProducts() *stubProducts {
	return &stubProducts{items: make(map[string]*catalog.Product)}
}

func (s *stubProducts) List(_ context.Context, q catalog.ProductQuery) (repository.Page[catalog.Product], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = q
	data := make([]catalog.Product, 0, len(s.items))
	for _, p := range s.items {
		data = append(data, *p)
	}
	total := int64(len(data))
	return repository.Page[catalog.Product]{
		Data: data,
		Meta: repository.PageMeta{Page: max(q.Page, 1), Limit: q.Limit, Total: total, TotalPages: repository.TotalPages(total, max(q.Limit, 1))},
	}, nil
}

func (s *stubProducts) Get(_ context.Context, id string) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *stubProducts) Create(_ context.Context, in catalog.ProductInput) (*catalog.Product, error) {
	if in.Name == "" {
		return nil, errs.Validation("name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p := &catalog.Product{ID: "prod-" + strconv.Itoa(s.seq), Name: in.Name, Description: in.Description}
	s.items[p.ID] = p
	out := *p
	return &out, nil
}

func (s *stubProducts) Update(_ context.Context, id string, upd catalog.ProductUpdate) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = upd.Description
	}
	out := *p
	return &out, nil
}

func (s *stubProducts) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return errs.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *stubProducts) Import(_ context.Context, items []catalog.ProductImport) ([]catalog.Product, error) {
	if len(items) == 0 {
		return nil, errs.Validation("items are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Product, 0, len(items))
	for _, it := range items {
		id := it.ID
		if id == "" {
			s.seq++
			id = "prod-" + strconv.Itoa(s.seq)
		}
		p := &catalog.Product{ID: id, Name: it.Name, Description: it.Description}
		s.items[id] = p
		out = append(out, *p)
	}
	return out, nil
}

type stubReady struct{ err error }

func (s stubReady) Ping(context.Context) error { return s.err }

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	tokens   *auth.TokenIssuer
	members  *stubMembers
	auth     *stubAuth
	admin    *stubAdmin
	products *stubProducts
	ready    *stubReady
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, Options{
		RateLimitRPS: 1000, RateLimitBurst: 1000, AuthRPS: 1, AuthBurst: 3,
		TrustedProxies: []string{"127.0.0.1", "::1"},
	})
}

func newTestServerWith(t *testing.T, opts Options) *testServer {
	t.Helper()
	tokens, err := auth.NewTokenIssuer(testAccessSecret, testRefreshSecret, auth.WithIssuer("gatehouse"))
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	members := &stubMembers{
		roles: map[string][]auth.RoleSlug{
			"admin-1":   {auth.RoleAdmin},
			"manager-1": {auth.RoleManager},
			"user-1":    {auth.RoleUser},
		},
		perms: map[string][]auth.PermissionSlug{
			"admin-1":   {auth.PermUsersView, auth.PermProductsView, auth.PermProductsCreate, auth.PermProductsEdit, auth.PermProductsDelete},
			"manager-1": {auth.PermUsersView, auth.PermProductsView, auth.PermProductsCreate, auth.PermAPIKeysCreate, auth.PermAPIKeysView},
			"user-1":    {auth.PermProfileView, auth.PermProductsView},
		},
	}
	keys := stubKeys{"sk_manager": {ID: "manager-1", Email: "m@b.com", IsActive: true}}
	g, err := gate.New(tokens, keys, members)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	ts := &testServer{t: t, tokens: tokens, members: members, auth: &stubAuth{}, admin: &stubAdmin{}, products: newStubProducts(), ready: &stubReady{}}
	api, err := New(Deps{
		Auth:     ts.auth,
		Admin:    ts.admin,
		Products: ts.products,
		Gate:     g,
		Ready:    ts.ready,
		Version:  "test",
	}, opts)
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	ts.srv = httptest.NewServer(api.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (s *testServer) token(principalID string) string {
	s.t.Helper()
	tok, err := s.tokens.Issue(auth.Payload{PrincipalID: principalID, Email: principalID + "@b.com"}, auth.AccessToken)
	if err != nil {
		s.t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *http.Response {
	s.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		s.t.Fatalf("do request: %v", err)
	}
	s.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func bearerFor(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func expectDenial(t *testing.T, resp *http.Response, code int, reason errs.Reason) {
	t.Helper()
	if resp.StatusCode != code {
		t.Fatalf("expected %d, got %d", code, resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["reason"] != string(reason) {
		t.Fatalf("expected reason %s, got %v", reason, body["reason"])
	}
	if body["request_id"] == nil || body["request_id"] == "" {
		t.Fatalf("denial without request_id: %v", body)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["version"] != "test" {
		t.Fatalf("unexpected healthz body %v", body)
	}

	ts.ready.err = errs.Infra("pg.ping", errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	resp = ts.do(http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz: expected 503, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); strings.Contains(body["status"].(string), "10.0.0.5") || body["error"] != nil {
		t.Fatalf("readiness leaked the cause: %v", body)
	}
}

func TestGateDenials(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing credentials", func(t *testing.T) {
		resp := ts.do(http.MethodGet, "/v1/products", nil, nil)
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Fatalf("expected WWW-Authenticate header")
		}
		expectDenial(t, resp, http.StatusUnauthorized, errs.AuthenticationRequired)
	})

	t.Run("foreign scheme", func(t *testing.T) {
		resp := ts.do(http.MethodGet, "/v1/products", nil, map[string]string{"Authorization": "Basic dXNlcjpwYXNz"})
		expectDenial(t, resp, http.StatusUnauthorized, errs.InvalidToken)
	})

	t.Run("refresh token used as access token", func(t *testing.T) {
		refresh, err := ts.tokens.Issue(auth.Payload{PrincipalID: "user-1"}, auth.RefreshToken)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		expectDenial(t, ts.do(http.MethodGet, "/v1/products", nil, bearerFor(refresh)), http.StatusUnauthorized, errs.InvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
		old, err := auth.NewTokenIssuer(testAccessSecret, testRefreshSecret, auth.WithIssuer("gatehouse"), auth.WithTokenClock(past))
		if err != nil {
			t.Fatalf("issuer: %v", err)
		}
		tok, err := old.Issue(auth.Payload{PrincipalID: "user-1"}, auth.AccessToken)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		expectDenial(t, ts.do(http.MethodGet, "/v1/products", nil, bearerFor(tok)), http.StatusUnauthorized, errs.ExpiredToken)
	})

	t.Run("missing permission", func(t *testing.T) {
		resp := ts.do(http.MethodPost, "/v1/products", map[string]any{"name": "Widget"}, bearerFor(ts.token("user-1")))
		expectDenial(t, resp, http.StatusForbidden, errs.Forbidden)
	})

	t.Run("role gated route", func(t *testing.T) {
		resp := ts.do(http.MethodPost, "/v1/users/user-1/roles", map[string]any{"role": "manager"}, bearerFor(ts.token("manager-1")))
		expectDenial(t, resp, http.StatusForbidden, errs.Forbidden)
		if len(ts.admin.assigned) != 0 {
			t.Fatalf("handler ran for a forbidden request")
		}
	})
}

func TestGateAllowsAnyGrantedCredential(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(http.MethodGet, "/v1/products", nil, bearerFor(ts.token("user-1")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer: expected 200, got %d", resp.StatusCode)
	}

	resp = ts.do(http.MethodPost, "/v1/auth/api-keys", map[string]any{"name": "ci key"}, map[string]string{"X-API-Key": "sk_manager"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("api key: expected 201, got %d", resp.StatusCode)
	}
	if len(ts.auth.generated) != 1 || ts.auth.generated[0] != "manager-1" {
		t.Fatalf("key generated for wrong principal: %v", ts.auth.generated)
	}

	resp = ts.do(http.MethodPost, "/v1/users/user-1/roles", map[string]any{"role": "manager"}, bearerFor(ts.token("admin-1")))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("assign role: expected 204, got %d", resp.StatusCode)
	}
	if len(ts.admin.assigned) != 1 || ts.admin.assigned[0] != "user-1:manager" {
		t.Fatalf("unexpected assignment %v", ts.admin.assigned)
	}
}

func TestStoreFailureIsServiceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.members.err = errs.Infra("graph.has_any_permission", context.DeadlineExceeded)

	resp := ts.do(http.MethodGet, "/v1/products", nil, bearerFor(ts.token("user-1")))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After")
	}
	body := decodeBody(t, resp)
	if _, ok := body["reason"]; ok {
		t.Fatalf("store failure reported as a denial: %v", body)
	}
	if strings.Contains(body["error"].(string), "deadline") {
		t.Fatalf("cause leaked: %v", body)
	}
}

func TestAuthEndpointsMapServiceErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.registerFn = func(_ context.Context, in auth.RegisterInput) (auth.AuthResult, error) {
		if in.Email == "taken@b.com" {
			return auth.AuthResult{}, errors.Join(errs.ErrConflict, errors.New("email is already registered"))
		}
		if in.Password == "" {
			return auth.AuthResult{}, errs.Validation("password is required")
		}
		return auth.AuthResult{Principal: &auth.Principal{ID: "u9", Email: in.Email}, Role: auth.RoleUser}, nil
	}
	ts.auth.loginFn = func(context.Context, auth.LoginInput) (auth.AuthResult, error) {
		return auth.AuthResult{}, errors.Join(errs.ErrUnauthorized, errors.New("invalid email or password"))
	}

	cases := []struct {
		name string
		path string
		body any
		code int
	}{
		{"created", "/v1/auth/register", map[string]any{"email": "a@b.com", "password": "Str0ng!Pass", "name": "Ann"}, http.StatusCreated},
		{"duplicate", "/v1/auth/register", map[string]any{"email": "taken@b.com", "password": "Str0ng!Pass", "name": "Ann"}, http.StatusConflict},
		{"invalid", "/v1/auth/register", map[string]any{"email": "a@b.com", "name": "Ann"}, http.StatusBadRequest},
		{"unknown field", "/v1/auth/register", map[string]any{"email": "a@b.com", "role": "admin"}, http.StatusBadRequest},
		{"empty body", "/v1/auth/register", "", http.StatusBadRequest},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{"X-Forwarded-For": "203.0.113." + strconv.Itoa(i+1)}
			resp := ts.do(http.MethodPost, tc.path, tc.body, headers)
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.StatusCode)
			}
		})
	}

	resp := ts.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "a@b.com", "password": "nope"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login: expected 401, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["error"] == nil {
		t.Fatalf("login failure without message")
	}

	resp = ts.do(http.MethodPost, "/v1/auth/refresh", map[string]any{"refresh_token": " "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("refresh: expected 400, got %d", resp.StatusCode)
	}
}

func TestStrictLimiterOnLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.auth.loginFn = func(context.Context, auth.LoginInput) (auth.AuthResult, error) {
		return auth.AuthResult{Principal: &auth.Principal{ID: "u1"}}, nil
	}
	headers := map[string]string{"X-Forwarded-For": "198.51.100.7"}
	for i := range 3 {
		if resp := ts.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "a@b.com", "password": "x"}, headers); resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	resp := ts.do(http.MethodPost, "/v1/auth/login", map[string]any{"email": "a@b.com", "password": "x"}, headers)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	resp = ts.do(http.MethodGet, "/v1/products", nil, map[string]string{"X-Forwarded-For": "198.51.100.7", "Authorization": "Bearer " + ts.token("user-1")})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("strict limiter leaked onto other routes: %d", resp.StatusCode)
	}
}

func TestProductRoutes(t *testing.T) {
	ts := newTestServer(t)
	admin := bearerFor(ts.token("admin-1"))

	resp := ts.do(http.MethodPost, "/v1/products", map[string]any{"name": "Widget", "description": "small"}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	created := decodeBody(t, resp)
	if loc != "/v1/products/"+created["id"].(string) {
		t.Fatalf("unexpected Location %q", loc)
	}

	resp = ts.do(http.MethodPatch, loc, map[string]any{"name": "Gadget"}, admin)
	if body := decodeBody(t, resp); resp.StatusCode != http.StatusOK || body["name"] != "Gadget" {
		t.Fatalf("update: %d %v", resp.StatusCode, body)
	}

	resp = ts.do(http.MethodGet, "/v1/products?search=gad&sortBy=name&sortOrder=asc&limit=5", nil, admin)
	body := decodeBody(t, resp)
	meta := body["meta"].(map[string]any)
	if meta["total"].(float64) != 1 || meta["limit"].(float64) != 5 {
		t.Fatalf("unexpected meta %v", meta)
	}
	if q := ts.products.lastQuery; q.Search != "gad" || q.SortBy != "name" || q.SortOrder != "asc" || q.Limit != 5 {
		t.Fatalf("unexpected query %+v", q)
	}

	if resp := ts.do(http.MethodGet, "/v1/products?limit=abc", nil, admin); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", resp.StatusCode)
	}

	resp = ts.do(http.MethodPost, "/v1/products/import", map[string]any{"items": []map[string]any{
		{"id": created["id"], "name": "Gizmo"},
		{"name": "Sprocket"},
	}}, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: expected 200, got %d", resp.StatusCode)
	}
	if data := decodeBody(t, resp)["data"].([]any); len(data) != 2 || data[0].(map[string]any)["name"] != "Gizmo" {
		t.Fatalf("unexpected import result %v", data)
	}
	if resp := ts.do(http.MethodPost, "/v1/products/import", map[string]any{"items": []any{}}, admin); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty import: expected 400, got %d", resp.StatusCode)
	}
	if resp := ts.do(http.MethodPost, "/v1/products/import", map[string]any{"items": []map[string]any{{"name": "Nope"}}}, bearerFor(ts.token("user-1"))); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("import without products.edit: expected 403, got %d", resp.StatusCode)
	}

	if resp := ts.do(http.MethodDelete, loc, nil, admin); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	if resp := ts.do(http.MethodGet, loc, nil, admin); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", resp.StatusCode)
	}
}

func TestPermissionListingCarriesResourceAndAction(t *testing.T) {
	ts := newTestServer(t)
	ts.members.perms["admin-1"] = append(ts.members.perms["admin-1"], auth.PermPermissionsView)

	resp := ts.do(http.MethodGet, "/v1/permissions", nil, bearerFor(ts.token("admin-1")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data := decodeBody(t, resp)["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected one permission, got %v", data)
	}
	perm := data[0].(map[string]any)
	if perm["slug"] != "users.view" || perm["resource"] != "users" || perm["action"] != "view" {
		t.Fatalf("unexpected permission %v", perm)
	}
}

func TestUserListingParsesFilters(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodGet, "/v1/users?page=2&limit=20&search=ann&sortBy=name&sortOrder=ASC&is_active=true", nil, bearerFor(ts.token("admin-1")))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	q := ts.admin.lastQuery
	if q.Page != 2 || q.Limit != 20 || q.Search != "ann" || q.SortBy != "name" || q.SortOrder != "asc" {
		t.Fatalf("unexpected query %+v", q)
	}
	if q.IsActive == nil || !*q.IsActive || q.EmailVerified != nil {
		t.Fatalf("unexpected filters %+v", q)
	}
	if resp := ts.do(http.MethodGet, "/v1/users?is_active=maybe", nil, bearerFor(ts.token("admin-1"))); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad filter: expected 400, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(http.MethodGet, "/v1/nothing-here", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestNewRequiresServices(t *testing.T) {
	if _, err := New(Deps{}, Options{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewRejectsBadTrustedProxy(t *testing.T) {
	deps := Deps{Auth: &stubAuth{}, Admin: &stubAdmin{}, Products: newStubProducts(), Gate: &gate.Gate{}}
	if _, err := New(deps, Options{TrustedProxies: []string{"10.0.0.0/40"}}); err == nil {
		t.Fatalf("expected error for invalid proxy prefix")
	}
}

func TestGuardRejectsUnknownPermissionAtRegistration(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown permission")
		}
	}()
	a := &API{}
	a.guard(gate.Permissions("products.veiw"), func(http.ResponseWriter, *http.Request) {})
}
