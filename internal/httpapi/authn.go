package httpapi

import (
	"net/http"
	"strings"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/gate"
)

const (
	authHeader   = "Authorization"
	apiKeyHeader = "X-API-Key"
	bearer       = "Bearer "
)

// guard authenticates the request and authorizes it against req before h
// runs. req is validated when the route is registered, so a typo in a
// permission slug fails at startup.
func (a *API) guard(req gate.Requirement, h http.HandlerFunc) http.Handler {
	req.MustValidate()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithMemo(r.Context())
		creds, err := extractCredentials(r)
		if err != nil {
			a.respond(w, r, err)
			return
		}
		id, err := a.gate.Authenticate(ctx, creds)
		if err != nil {
			a.respond(w, r, err)
			return
		}
		if err := a.gate.Authorize(ctx, id, req); err != nil {
			a.respond(w, r, err)
			return
		}
		h(w, r.WithContext(gate.WithIdentity(ctx, id)))
	})
}

// extractCredentials reads a bearer token from Authorization and an API key
// from X-API-Key. An Authorization header with another scheme is rejected
// rather than ignored.
func extractCredentials(r *http.Request) (gate.Credentials, error) {
	var c gate.Credentials
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
			return gate.Credentials{}, errs.Deny(errs.InvalidToken, nil)
		}
		c.Bearer = strings.TrimSpace(header[len(bearer):])
		if c.Bearer == "" {
			return gate.Credentials{}, errs.Deny(errs.InvalidToken, nil)
		}
	}
	c.APIKey = strings.TrimSpace(r.Header.Get(apiKeyHeader))
	return c, nil
}

func identity(r *http.Request) gate.Identity {
	id, _ := gate.IdentityFromContext(r.Context())
	return id
}
