package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitPerUser(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	env := newTestEnv(t, limiter)
	token := env.login(t).AccessToken

	rec := env.do(t, http.MethodPost, "/api/chat", token, chatBody("Hi"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", token, chatBody("Hi"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "rate limit exceeded", decodeError(t, rec))

	// user routes are not limited
	rec = env.do(t, http.MethodGet, "/users/getInfo", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.get("u").Allow())
	}
}

func TestRateLimitCleanup(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewRateLimiter(60, 5)
	limiter.now = func() time.Time { return now }

	limiter.get("idle")
	now = now.Add(limiterIdleTTL)
	limiter.get("active")
	now = now.Add(time.Minute)

	require.Equal(t, 1, limiter.Cleanup())
	require.Len(t, limiter.limiters, 1)
	require.Contains(t, limiter.limiters, "active")
}
