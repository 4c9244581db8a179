package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatehouse.dev/internal/errs"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenKind selects the signing secret and lifetime of a token.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

func (k TokenKind) String() string {
	switch k {
	case AccessToken:
		return "access"
	case RefreshToken:
		return "refresh"
	default:
		return fmt.Sprintf("TokenKind(%d)", int(k))
	}
}

// Payload is the identity carried by a token. IssuedAt and ExpiresAt are
// filled by the issuer and have second precision.
type Payload struct {
	PrincipalID string    `json:"id"`
	Email       string    `json:"email"`
	Role        RoleSlug  `json:"role"`
	TokenID     string    `json:"-"`
	IssuedAt    time.Time `json:"-"`
	ExpiresAt   time.Time `json:"-"`
}

// Claims is the signed JWT body.
type Claims struct {
	PrincipalID string   `json:"id"`
	Email       string   `json:"email"`
	Role        RoleSlug `json:"role"`
	jwt.RegisteredClaims
}

// TokenPair is an access token and a refresh token minted from one payload.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenIssuer signs and verifies HS256 tokens. It holds no mutable state and
// is safe for concurrent use.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer) error

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(t *TokenIssuer) error {
		if ttl > 0 {
			t.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(t *TokenIssuer) error {
		if ttl > 0 {
			t.refreshTTL = ttl
		}
		return nil
	}
}

// WithIssuer sets the iss claim. Verification then requires a matching iss.
func WithIssuer(issuer string) TokenOption {
	return func(t *TokenIssuer) error {
		t.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenIssuer) error {
		if fn != nil {
			t.now = fn
		}
		return nil
	}
}

// NewTokenIssuer builds an issuer. The two secrets must be present and
// different.
func NewTokenIssuer(accessSecret, refreshSecret string, opts ...TokenOption) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	t := &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if t.accessTTL >= t.refreshTTL {
		return nil, fmt.Errorf("auth: access ttl %s must be shorter than refresh ttl %s", t.accessTTL, t.refreshTTL)
	}
	return t, nil
}

// TTL returns the lifetime of tokens of kind.
func (t *TokenIssuer) TTL(kind TokenKind) time.Duration {
	if kind == RefreshToken {
		return t.refreshTTL
	}
	return t.accessTTL
}

func (t *TokenIssuer) secret(kind TokenKind) ([]byte, error) {
	switch kind {
	case AccessToken:
		return t.accessSecret, nil
	case RefreshToken:
		return t.refreshSecret, nil
	default:
		return nil, fmt.Errorf("auth: unknown token kind %s", kind)
	}
}

// Issue signs p as a token of kind and returns the compact string.
func (t *TokenIssuer) Issue(p Payload, kind TokenKind) (string, error) {
	signed, _, err := t.issue(p, kind)
	return signed, err
}

func (t *TokenIssuer) issue(p Payload, kind TokenKind) (string, time.Time, error) {
	if strings.TrimSpace(p.PrincipalID) == "" {
		return "", time.Time{}, errs.Validation("token payload requires a principal id")
	}
	key, err := t.secret(kind)
	if err != nil {
		return "", time.Time{}, err
	}
	now := t.now().UTC().Truncate(time.Second)
	exp := now.Add(t.TTL(kind))
	claims := Claims{
		PrincipalID: p.PrincipalID,
		Email:       p.Email,
		Role:        p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign %s token: %w", kind, err)
	}
	return signed, exp, nil
}

// IssuePair mints an access and a refresh token for the same payload.
func (t *TokenIssuer) IssuePair(p Payload) (TokenPair, error) {
	access, accessExp, err := t.issue(p, AccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.issue(p, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify checks the signature with the secret for kind, then expiry. A token
// past its expiry fails with errs.ExpiredToken; every other failure is
// errs.InvalidToken.
func (t *TokenIssuer) Verify(token string, kind TokenKind) (Payload, error) {
	key, err := t.secret(kind)
	if err != nil {
		return Payload{}, errs.Deny(errs.InvalidToken, err)
	}
	if strings.TrimSpace(token) == "" {
		return Payload{}, errs.Deny(errs.InvalidToken, errors.New("empty token"))
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	var claims Claims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Payload{}, errs.Deny(errs.ExpiredToken, err)
		}
		return Payload{}, errs.Deny(errs.InvalidToken, err)
	}
	if claims.PrincipalID == "" {
		return Payload{}, errs.Deny(errs.InvalidToken, errors.New("token has no principal id"))
	}
	p := Payload{
		PrincipalID: claims.PrincipalID,
		Email:       claims.Email,
		Role:        claims.Role,
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p, nil
}
