package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Roles understood by the service.
const (
	RoleFarmer = "farmer"
	RoleAdmin  = "admin"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated principal behind a request or connection.
type Identity struct {
	UserID string   `json:"userId"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	return i != nil && slices.Contains(i.Roles, role)
}

// IdentityResolver turns a bearer token into an Identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// Claims is the access token payload. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// JWTResolver verifies HS256 access tokens issued by the account service.
type JWTResolver struct {
	secret      []byte
	issuer      string
	debugTokens map[string]Identity
	log         *slog.Logger
}

// debugIdentities are accepted verbatim as tokens when debug tokens are on.
var debugIdentities = map[string]Identity{
	"e2e-farmer": {UserID: "00000000-0000-0000-0000-0000000000f1", Email: "farmer@lavra.test", Roles: []string{RoleFarmer}},
	"e2e-admin":  {UserID: "00000000-0000-0000-0000-0000000000a1", Email: "admin@lavra.test", Roles: []string{RoleFarmer, RoleAdmin}},
}

// NewJWTResolver builds the resolver from the auth config. Debug tokens are
// never honoured in production.
func NewJWTResolver(cfg *config.Config, log *slog.Logger) *JWTResolver {
	r := &JWTResolver{
		secret: []byte(cfg.Auth.JWTSecret),
		issuer: cfg.Auth.JWTIssuer,
		log:    log.With(logger.Scope("auth")),
	}
	if cfg.Auth.DebugTokens && !cfg.IsProduction() {
		r.debugTokens = debugIdentities
		r.log.Warn("debug tokens enabled")
	}
	if len(r.secret) == 0 {
		r.log.Warn("AUTH_JWT_SECRET is empty, only debug tokens will authenticate")
	}
	return r
}

func (r *JWTResolver) Resolve(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if id, ok := r.debugTokens[token]; ok {
		return &id, nil
	}
	if len(r.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}

// Issue signs a token for id valid for ttl. Used by the dev tooling and tests.
func (r *JWTResolver) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: id.Email,
		Roles: id.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
