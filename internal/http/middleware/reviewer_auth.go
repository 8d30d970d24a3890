package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const reviewerClaimsKey contextKey = "reviewerClaims"

// ReviewerJWT requires an HMAC-signed bearer token whose subject names the reviewer.
func ReviewerJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "reviewer auth disabled", http.StatusUnauthorized)
				return
			}
			tokenString, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if strings.TrimSpace(claims.Subject) == "" {
				http.Error(w, "token has no subject", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), reviewerClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReviewerFromContext returns the authenticated reviewer id, or "" when the request is anonymous.
func ReviewerFromContext(ctx context.Context) string {
	claims, ok := ctx.Value(reviewerClaimsKey).(jwt.RegisteredClaims)
	if !ok {
		return ""
	}
	return claims.Subject
}

// WithReviewer attaches a reviewer identity. Tests and internal callers use it to skip token parsing.
func WithReviewer(ctx context.Context, reviewer string) context.Context {
	return context.WithValue(ctx, reviewerClaimsKey, jwt.RegisteredClaims{Subject: reviewer})
}
