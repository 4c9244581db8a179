package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatehouse.dev/internal/errs"
	"gatehouse.dev/internal/ids"
	"gatehouse.dev/internal/validation"
)

const (
	// APIKeyPrefix marks API key secrets.
	APIKeyPrefix       = "sk_"
	apiKeySecretLength = 32
)

var errInvalidCredentials = fmt.Errorf("%w: invalid email or password", errs.ErrUnauthorized)

// Service registers principals, authenticates them and manages their API
// keys.
type Service struct {
	store       Store
	resolver    *Resolver
	hasher      *Hasher
	tokens      *TokenIssuer
	logger      *zap.Logger
	now         func() time.Time
	hashAPIKeys bool
	defaultRole RoleSlug
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithHashedAPIKeys stores SHA-256 digests of API keys instead of the keys.
// Switching this on invalidates keys stored in the other form.
func WithHashedAPIKeys(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.hashAPIKeys = enabled
		return nil
	}
}

// WithDefaultRole overrides the role granted on registration.
func WithDefaultRole(role RoleSlug) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(string(role)) == "" {
			return errors.New("auth: default role is empty")
		}
		s.defaultRole = role
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, resolver *Resolver, hasher *Hasher, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil || resolver == nil || hasher == nil || tokens == nil {
		return nil, errors.New("auth: store, resolver, hasher and token issuer are required")
	}
	svc := &Service{
		store:       store,
		resolver:    resolver,
		hasher:      hasher,
		tokens:      tokens,
		logger:      zap.NewNop(),
		now:         time.Now,
		defaultRole: RoleUser,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the issuer used for verification at the request gate.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Resolver exposes the permission resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// RegisterInput is the payload for Register.
type RegisterInput struct {
	Email    string  `json:"email" validate:"required,email,max=255"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Name     string  `json:"name" validate:"required,min=2,max=100"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,min=10,max=20"`
}

// LoginInput is the payload for Login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register creates a principal, grants the default role and issues tokens.
// The principal and the role edge are written in one transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return AuthResult{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	var result AuthResult
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.store.CreatePrincipal(ctx, NewPrincipal{
			Email:        in.Email,
			PasswordHash: hash,
			Name:         in.Name,
			Phone:        in.Phone,
		})
		if err != nil {
			return err
		}
		if err := s.store.AssignRole(ctx, p.ID, s.defaultRole); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("auth: default role %q is not provisioned", s.defaultRole)
			}
			return err
		}
		pair, err := s.tokens.IssuePair(Payload{PrincipalID: p.ID, Email: p.Email, Role: s.defaultRole})
		if err != nil {
			return err
		}
		result = AuthResult{Principal: p, Role: s.defaultRole, Tokens: pair}
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			return AuthResult{}, fmt.Errorf("%w: email is already registered", errs.ErrConflict)
		}
		return AuthResult{}, err
	}
	s.logger.Info("principal registered", zap.String("principal_id", result.Principal.ID))
	return result, nil
}

// Login checks credentials and issues a token pair whose role is the
// principal's primary role.
func (s *Service) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validation.Struct(in); err != nil {
		return AuthResult{}, err
	}
	p, err := s.store.PrincipalByEmail(ctx, in.Email)
	if err != nil {
		return AuthResult{}, err
	}
	if p == nil {
		return AuthResult{}, errInvalidCredentials
	}
	ok, err := s.hasher.Verify(in.Password, p.PasswordHash)
	if err != nil {
		return AuthResult{}, err
	}
	if !ok {
		return AuthResult{}, errInvalidCredentials
	}
	if !p.Usable() {
		return AuthResult{}, fmt.Errorf("%w: account is deactivated", errs.ErrUnauthorized)
	}
	role, err := s.resolver.PrimaryRole(ctx, p.ID)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.store.TouchLastLogin(ctx, p.ID); err != nil {
		return AuthResult{}, err
	}
	now := s.now().UTC()
	p.LastLoginAt = &now
	pair, err := s.tokens.IssuePair(Payload{PrincipalID: p.ID, Email: p.Email, Role: role})
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Principal: p, Role: role, Tokens: pair}, nil
}

// Refresh exchanges a valid refresh token for a new pair. The role is
// resolved again so grants changed since issue are reflected.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload, err := s.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	p, err := s.store.PrincipalByID(ctx, payload.PrincipalID)
	if err != nil {
		return TokenPair{}, err
	}
	if !p.Usable() {
		return TokenPair{}, errs.Deny(errs.InvalidToken, errors.New("principal is not usable"))
	}
	role, err := s.resolver.PrimaryRole(ctx, p.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return s.tokens.IssuePair(Payload{PrincipalID: p.ID, Email: p.Email, Role: role})
}

// Profile returns the principal with its roles and effective permissions.
func (s *Service) Profile(ctx context.Context, principalID string) (Profile, error) {
	p, err := s.store.PrincipalByID(ctx, principalID)
	if err != nil {
		return Profile{}, err
	}
	if !p.Usable() {
		return Profile{}, fmt.Errorf("%w: user %s", errs.ErrNotFound, principalID)
	}
	roles, err := s.resolver.RolesOf(ctx, p.ID)
	if err != nil {
		return Profile{}, err
	}
	perms, err := s.resolver.PermissionsOf(ctx, p.ID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Principal: p, Role: PrimaryRole(roles), Roles: roles, Permissions: perms}, nil
}

// APIKeyInput is the payload for GenerateAPIKey.
type APIKeyInput struct {
	Name          string `json:"name" validate:"required,min=3,max=100"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty" validate:"omitempty,min=1,max=365"`
}

// GenerateAPIKey creates a key for principalID. The secret is only present
// in the returned value.
func (s *Service) GenerateAPIKey(ctx context.Context, principalID string, in APIKeyInput) (IssuedAPIKey, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return IssuedAPIKey{}, err
	}
	var expiresAt *time.Time
	if in.ExpiresInDays != nil {
		t := s.now().UTC().AddDate(0, 0, *in.ExpiresInDays)
		expiresAt = &t
	}
	return s.createAPIKey(ctx, principalID, in.Name, expiresAt)
}

func (s *Service) createAPIKey(ctx context.Context, principalID, name string, expiresAt *time.Time) (IssuedAPIKey, error) {
	secret, err := ids.Secret(APIKeyPrefix, apiKeySecretLength)
	if err != nil {
		return IssuedAPIKey{}, fmt.Errorf("auth: generate api key: %w", err)
	}
	key, err := s.store.CreateAPIKey(ctx, NewAPIKey{
		UserID:    principalID,
		Name:      name,
		Key:       s.storedKey(secret),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return IssuedAPIKey{}, err
	}
	return IssuedAPIKey{APIKey: *key, Secret: secret}, nil
}

// ListAPIKeys returns the principal's keys without secrets.
func (s *Service) ListAPIKeys(ctx context.Context, principalID string) ([]APIKey, error) {
	return s.store.ListAPIKeys(ctx, principalID)
}

// DeactivateAPIKey switches off a key owned by principalID.
func (s *Service) DeactivateAPIKey(ctx context.Context, principalID, keyID string) error {
	return s.store.DeactivateAPIKey(ctx, principalID, keyID)
}

// RotateAPIKey replaces an active key with a new secret under the same name
// and expiry. The old key stops working in the same transaction.
func (s *Service) RotateAPIKey(ctx context.Context, principalID, keyID string) (IssuedAPIKey, error) {
	var issued IssuedAPIKey
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		old, err := s.store.APIKeyByID(ctx, principalID, keyID)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("%w: api key %s", errs.ErrNotFound, keyID)
		}
		if !old.Usable(s.now()) {
			return errs.Validation("api key %s is inactive or expired", keyID)
		}
		if err := s.store.DeactivateAPIKey(ctx, principalID, keyID); err != nil {
			return err
		}
		issued, err = s.createAPIKey(ctx, principalID, old.Name, old.ExpiresAt)
		return err
	})
	if err != nil {
		return IssuedAPIKey{}, err
	}
	return issued, nil
}

// ResolveAPIKey returns the principal owning a usable key. Any failure to
// match is errs.InvalidToken; store failures propagate as they are.
func (s *Service) ResolveAPIKey(ctx context.Context, presented string) (*Principal, error) {
	presented = strings.TrimSpace(presented)
	if !strings.HasPrefix(presented, APIKeyPrefix) {
		return nil, errs.Deny(errs.InvalidToken, errors.New("malformed api key"))
	}
	stored := s.storedKey(presented)
	now := s.now()
	key, err := s.store.UsableAPIKey(ctx, stored, now)
	if err != nil {
		return nil, err
	}
	if !key.Usable(now) || subtle.ConstantTimeCompare([]byte(key.Key), []byte(stored)) != 1 {
		return nil, errs.Deny(errs.InvalidToken, errors.New("api key not usable"))
	}
	p, err := s.store.PrincipalByID(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	if !p.Usable() {
		return nil, errs.Deny(errs.InvalidToken, errors.New("api key owner not usable"))
	}
	if err := s.store.TouchAPIKey(ctx, key.ID); err != nil {
		s.logger.Warn("api key last_used_at not updated", zap.String("api_key_id", key.ID), zap.Error(err))
	}
	return p, nil
}

func (s *Service) storedKey(secret string) string {
	if !s.hashAPIKeys {
		return secret
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
