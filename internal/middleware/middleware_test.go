package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/focusflow/focusflow-go/internal/crypto"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := UserIDFromContext(r.Context())
	if id == 0 {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	token, err := crypto.GenerateToken(7, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Token " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}

	h := JWTAuth(secret)(http.HandlerFunc(okHandler))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/active", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status got = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRateLimit_PerUser(t *testing.T) {
	limited := RateLimit(0.001, 2)(http.HandlerFunc(okHandler))

	send := func(userID int64) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/tasks", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req = req.WithContext(WithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send(1); code != http.StatusOK {
			t.Fatalf("request %d got = %d, want 200", i, code)
		}
	}
	if code := send(1); code != http.StatusTooManyRequests {
		t.Errorf("third request got = %d, want 429", code)
	}
	if code := send(2); code != http.StatusOK {
		t.Errorf("other user from the same IP got = %d, want 200", code)
	}
}

func TestRateKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := rateKey(req); got != "ip:192.0.2.1" {
		t.Errorf("rateKey() got = %q", got)
	}
	req = req.WithContext(WithUserID(req.Context(), 9))
	if got := rateKey(req); got != "user:9" {
		t.Errorf("rateKey() got = %q", got)
	}
}
