package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func serveWithToken(t *testing.T, secret, token string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/approvals/a1/approve", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	var reviewer string
	ReviewerJWT(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reviewer = ReviewerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, reviewer
}

func signedToken(t *testing.T, secret, subject string, method jwt.SigningMethod) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestReviewerJWT(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		token    string
		want     int
		reviewer string
	}{
		{"auth disabled", "", "", http.StatusUnauthorized, ""},
		{"missing header", "secret", "", http.StatusUnauthorized, ""},
		{"wrong secret", "secret", signedToken(t, "other", "rev-1", jwt.SigningMethodHS256), http.StatusUnauthorized, ""},
		{"no subject", "secret", signedToken(t, "secret", "", jwt.SigningMethodHS256), http.StatusUnauthorized, ""},
		{"valid", "secret", signedToken(t, "secret", "rev-1", jwt.SigningMethodHS256), http.StatusOK, "rev-1"},
		{"valid hs512", "secret", signedToken(t, "secret", "rev-2", jwt.SigningMethodHS512), http.StatusOK, "rev-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, reviewer := serveWithToken(t, tt.secret, tt.token)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
			if reviewer != tt.reviewer {
				t.Fatalf("expected reviewer %q, got %q", tt.reviewer, reviewer)
			}
		})
	}
}

func TestReviewerFromContextAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ReviewerFromContext(req.Context()); got != "" {
		t.Fatalf("expected anonymous, got %q", got)
	}
	if got := ReviewerFromContext(WithReviewer(req.Context(), "rev-9")); got != "rev-9" {
		t.Fatalf("expected rev-9, got %q", got)
	}
}
