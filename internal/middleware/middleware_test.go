package api_middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	api_middleware "github.com/Lutefd/botkit-telemetry/internal/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func createTestRequest(apiKey string) *http.Request {
	req := httptest.NewRequest("POST", "/v1/logs", nil)
	if apiKey != "" {
		req.Header.Set(api_middleware.APIKeyHeader, apiKey)
	}
	return req
}

func TestTokenAuth_Authenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("valid-token"), bcrypt.MinCost)
	require.NoError(t, err)
	auth := api_middleware.NewTokenAuth(string(hash))

	tests := []struct {
		name           string
		apiKey         string
		expectedStatus int
	}{
		{name: "Valid API Key", apiKey: "valid-token", expectedStatus: http.StatusOK},
		{name: "Missing API Key", apiKey: "", expectedStatus: http.StatusUnauthorized},
		{name: "Invalid API Key", apiKey: "guess", expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			auth.Authenticate(okHandler()).ServeHTTP(rr, createTestRequest(tt.apiKey))

			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestTokenAuth_Disabled(t *testing.T) {
	auth := api_middleware.NewTokenAuth("")
	assert.False(t, auth.Enabled())

	rr := httptest.NewRecorder()
	auth.Authenticate(okHandler()).ServeHTTP(rr, createTestRequest(""))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimiter_Middleware(t *testing.T) {
	tests := []struct {
		name           string
		rps            float64
		burst          int
		requests       int
		expectedStatus int
	}{
		{name: "Under rate limit", rps: 10, burst: 20, requests: 20, expectedStatus: http.StatusOK},
		{name: "Exceeds rate limit", rps: 0.001, burst: 2, requests: 3, expectedStatus: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := api_middleware.NewRateLimiter(tt.rps, tt.burst)
			handler := rl.Middleware(okHandler())

			var last int
			for i := 0; i < tt.requests; i++ {
				req := httptest.NewRequest("GET", "/", nil)
				req.RemoteAddr = "192.168.0.1:5555"
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				last = rr.Code
			}

			assert.Equal(t, tt.expectedStatus, last)
		})
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := api_middleware.NewRateLimiter(0.001, 1)
	handler := rl.Middleware(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:2000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"))
}
