// Package auth resolves the tenant identity of incoming requests.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/parasol-ai/parasol/store"
)

// ErrUnauthorized is returned when a request carries no valid credential.
var ErrUnauthorized = errors.New("unauthorized")

type tenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// Authenticator validates tenant bearer tokens and resolves them to active
// tenants.
type Authenticator struct {
	store  *store.Store
	secret string
	// devMode additionally accepts a bare X-Tenant-ID header.
	devMode bool
}

func NewAuthenticator(s *store.Store, secret string, devMode bool) *Authenticator {
	return &Authenticator{store: s, secret: secret, devMode: devMode}
}

// AuthenticateTenant resolves the request headers to a validated, active
// tenant. Returns ErrUnauthorized for credential problems and
// store.ErrTenantNotFound for unknown or deactivated tenants.
func (a *Authenticator) AuthenticateTenant(ctx context.Context, authHeader, tenantHeader string) (*store.Tenant, error) {
	tenantID := ""
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		id, err := a.parseToken(token)
		if err != nil {
			return nil, err
		}
		tenantID = id
	} else if a.devMode && tenantHeader != "" {
		tenantID = tenantHeader
	}
	if tenantID == "" {
		return nil, ErrUnauthorized
	}
	return a.store.ValidateTenant(ctx, tenantID)
}

func (a *Authenticator) parseToken(token string) (string, error) {
	claims := &tenantClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.secret), nil
	})
	if err != nil || !parsed.Valid || claims.TenantID == "" {
		return "", ErrUnauthorized
	}
	return claims.TenantID, nil
}

// GenerateToken issues a tenant bearer token, used by the admin token
// endpoint.
func GenerateToken(tenantID, secret string, ttl time.Duration) (string, error) {
	claims := tenantClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
