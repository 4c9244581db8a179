// Package gate turns raw request credentials into an authenticated identity
// and an allow or deny decision for a route requirement.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/obs"
)

// Method names the credential that authenticated a request.
type Method string

const (
	MethodNone   Method = ""
	MethodBearer Method = "bearer"
	MethodAPIKey Method = "api_key"
)

// Credentials are the raw values presented by a caller.
type Credentials struct {
	Bearer string
	APIKey string
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	PrincipalID string        `json:"id"`
	Email       string        `json:"email"`
	Role        auth.RoleSlug `json:"role"`
	Method      Method        `json:"method"`
}

// TokenVerifier checks access tokens.
type TokenVerifier interface {
	Verify(token string, kind auth.TokenKind) (auth.Payload, error)
}

// KeyResolver maps an API key to its owner.
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (*auth.Principal, error)
}

// Membership answers role and permission questions.
type Membership interface {
	HasAnyRole(ctx context.Context, principalID string, roles ...auth.RoleSlug) (bool, error)
	HasAnyPermission(ctx context.Context, principalID string, perms ...auth.PermissionSlug) (bool, error)
	PrimaryRole(ctx context.Context, principalID string) (auth.RoleSlug, error)
}

// Gate authenticates credentials and authorizes identities.
type Gate struct {
	tokens  TokenVerifier
	keys    KeyResolver
	members Membership
	logger  *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

func New(tokens TokenVerifier, keys KeyResolver, members Membership, opts ...Option) (*Gate, error) {
	if tokens == nil || keys == nil || members == nil {
		return nil, errors.New("gate: token verifier, key resolver and membership are required")
	}
	g := &Gate{tokens: tokens, keys: keys, members: members, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authenticate prefers a bearer token over an API key. A request with
// neither is denied with errs.AuthenticationRequired. Store failures are
// returned as they are and never turned into a denial.
func (g *Gate) Authenticate(ctx context.Context, c Credentials) (Identity, error) {
	bearer := strings.TrimSpace(c.Bearer)
	key := strings.TrimSpace(c.APIKey)
	switch {
	case bearer != "":
		payload, err := g.tokens.Verify(bearer, auth.AccessToken)
		if err != nil {
			return Identity{}, g.denied(MethodBearer, err)
		}
		return Identity{
			PrincipalID: payload.PrincipalID,
			Email:       payload.Email,
			Role:        payload.Role,
			Method:      MethodBearer,
		}, nil
	case key != "":
		p, err := g.keys.ResolveAPIKey(ctx, key)
		if err != nil {
			return Identity{}, g.denied(MethodAPIKey, err)
		}
		role, err := g.members.PrimaryRole(ctx, p.ID)
		if err != nil {
			return Identity{}, g.denied(MethodAPIKey, err)
		}
		return Identity{PrincipalID: p.ID, Email: p.Email, Role: role, Method: MethodAPIKey}, nil
	default:
		return Identity{}, g.denied(MethodNone, errs.Deny(errs.AuthenticationRequired, nil))
	}
}

// Authorize allows id when it holds any role in req.AnyRole or any
// permission in req.AnyPermission. An empty requirement only needs
// authentication.
func (g *Gate) Authorize(ctx context.Context, id Identity, req Requirement) error {
	if id.PrincipalID == "" {
		return g.denied(id.Method, errs.Deny(errs.AuthenticationRequired, nil))
	}
	if req.Empty() {
		obs.RecordAuthDecision(string(id.Method), "allow")
		return nil
	}
	if len(req.AnyRole) > 0 {
		ok, err := g.members.HasAnyRole(ctx, id.PrincipalID, req.AnyRole...)
		if err != nil {
			return g.denied(id.Method, err)
		}
		if ok {
			obs.RecordAuthDecision(string(id.Method), "allow")
			return nil
		}
	}
	if len(req.AnyPermission) > 0 {
		ok, err := g.members.HasAnyPermission(ctx, id.PrincipalID, req.AnyPermission...)
		if err != nil {
			return g.denied(id.Method, err)
		}
		if ok {
			obs.RecordAuthDecision(string(id.Method), "allow")
			return nil
		}
	}
	return g.denied(id.Method, errs.Deny(errs.Forbidden, fmt.Errorf("principal %s lacks %s", id.PrincipalID, req)))
}

// Check authenticates c and authorizes the result against req.
func (g *Gate) Check(ctx context.Context, c Credentials, req Requirement) (Identity, error) {
	id, err := g.Authenticate(ctx, c)
	if err != nil {
		return Identity{}, err
	}
	if err := g.Authorize(ctx, id, req); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (g *Gate) denied(method Method, err error) error {
	if reason, ok := errs.ReasonOf(err); ok {
		obs.RecordAuthDecision(string(method), string(reason))
		g.logger.Debug("request denied", zap.String("method", string(method)), zap.String("reason", string(reason)), zap.Error(errors.Unwrap(err)))
		return err
	}
	obs.RecordAuthDecision(string(method), "error")
	g.logger.Warn("authorization could not be decided", zap.String("method", string(method)), zap.Error(err))
	return err
}
