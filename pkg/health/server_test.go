package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("metrics"))
	})

	tests := []struct {
		name       string
		apiKey     string
		authHeader string
		expected   int
	}{
		{"No key configured", "", "", http.StatusOK},
		{"Valid key", "secret", "Bearer secret", http.StatusOK},
		{"Missing header", "secret", "", http.StatusUnauthorized},
		{"Wrong scheme", "secret", "Basic secret", http.StatusUnauthorized},
		{"Wrong key", "secret", "Bearer wrong", http.StatusUnauthorized},
		{"Malformed header", "secret", "Bearer", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := &Server{metricsAPIKey: tc.apiKey}
			handler := server.metricsAuthMiddleware(next)

			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.expected, rec.Code)
		})
	}
}
