package ingress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims identifies the calling subsystem on a mutating request —
// this platform's bearer tokens authenticate a service (alert engine,
// global validator, bootstrap tooling), not an end user.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Service string `json:"service"`
}

type ctxKey int

const serviceClaimsKey ctxKey = iota

// ValidateToken parses tokenStr, strictly pinning the signing method to
// HS256 to rule out algorithm-confusion attacks, and returns the
// embedded ServiceClaims.
func ValidateToken(secret []byte, tokenStr string) (*ServiceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ServiceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Service == "" {
		return nil, errors.New("token missing required service claim")
	}
	return claims, nil
}

// requireAuth wraps handler so every call must carry a valid
// "Authorization: Bearer <token>" header signed with secret. The
// validated claims are attached to the request context for handlers
// that want to log the calling service.
func requireAuth(secret []byte, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := ValidateToken(secret, strings.TrimPrefix(header, prefix))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), serviceClaimsKey, claims)
		handler(w, r.WithContext(ctx))
	}
}

// callingService returns the service claim attached to ctx by
// requireAuth, or "" if none is present.
func callingService(ctx context.Context) string {
	claims, ok := ctx.Value(serviceClaimsKey).(*ServiceClaims)
	if !ok {
		return ""
	}
	return claims.Service
}
