package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type subjectKey struct{}

// BearerAuth requires an HS256 JWT signed with secret in the Authorization
// header. The token subject is stored on the request context.
func BearerAuth(secret []byte) Hook {
	return func(r *http.Request) (*http.Request, error) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			return r, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return r, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return r.WithContext(context.WithValue(r.Context(), subjectKey{}, claims.Subject)), nil
	}
}

// IssueToken signs a token for subject that BearerAuth accepts. A zero ttl
// issues a token without expiry.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Subject returns the authenticated token subject, if any.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
