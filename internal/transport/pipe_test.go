package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/chat-relay/internal/tokenstore"
	"github.com/vultisig/chat-relay/internal/types"
)

type fakeRelay struct {
	mu           sync.Mutex
	validAccess  string
	validRefresh string
	// status overrides the response for authorized requests when set
	status       int
	refreshCode  int
	requests     int
	refreshCalls int
	lastAuth     string
}

type relayCounts struct {
	requests     int
	refreshCalls int
	lastAuth     string
}

func (f *fakeRelay) counts() relayCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return relayCounts{requests: f.requests, refreshCalls: f.refreshCalls, lastAuth: f.lastAuth}
}

func (f *fakeRelay) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		f.refreshCalls++
		if f.refreshCode != 0 {
			w.WriteHeader(f.refreshCode)
			return
		}
		if body.RefreshToken != f.validRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.validAccess = "new-access"
		f.validRefresh = "new-refresh"
		json.NewEncoder(w).Encode(types.TokenPair{AccessToken: f.validAccess, RefreshToken: f.validRefresh})
	})
	mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests++
		f.lastAuth = r.Header.Get("Authorization")
		if f.lastAuth != "Bearer "+f.validAccess {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"token expired"}`))
			return
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			w.Write([]byte(`{"message":"request rejected"}`))
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
	return mux
}

func newTestPipe(t *testing.T, relay *fakeRelay, access, refresh string) (*Pipe, *tokenstore.Memory) {
	t.Helper()
	srv := httptest.NewServer(relay.handler(t))
	t.Cleanup(srv.Close)

	store := tokenstore.NewMemory()
	if access != "" {
		require.NoError(t, store.Set(tokenstore.KeyAccessToken, access))
	}
	if refresh != "" {
		require.NoError(t, store.Set(tokenstore.KeyRefreshToken, refresh))
	}
	logger, _ := test.NewNullLogger()
	return New(srv.URL, store, logger), store
}

func tokens(t *testing.T, store tokenstore.Store) (string, string) {
	t.Helper()
	access, err := store.Get(tokenstore.KeyAccessToken)
	require.NoError(t, err)
	refresh, err := store.Get(tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	return access, refresh
}

func TestDoAttachesBearer(t *testing.T) {
	relay := &fakeRelay{validAccess: "abc"}
	pipe, _ := newTestPipe(t, relay, `"abc"`, "")

	var out map[string]string
	require.NoError(t, pipe.DoJSON(context.Background(), http.MethodPost, "/api/echo", map[string]string{"ping": "pong"}, &out))
	require.Equal(t, map[string]string{"ping": "pong"}, out)
	require.Equal(t, "Bearer abc", relay.counts().lastAuth)
}

func TestDoRefreshesOnce(t *testing.T) {
	relay := &fakeRelay{validAccess: "current", validRefresh: "refresh"}
	pipe, store := newTestPipe(t, relay, "stale", "refresh")

	var out map[string]string
	require.NoError(t, pipe.DoJSON(context.Background(), http.MethodPost, "/api/echo", map[string]string{"ping": "pong"}, &out))
	require.Equal(t, "pong", out["ping"])

	require.Equal(t, 1, relay.counts().refreshCalls)
	require.Equal(t, 2, relay.counts().requests)
	access, refresh := tokens(t, store)
	require.Equal(t, "new-access", access)
	require.Equal(t, "new-refresh", refresh)
}

func TestDoWithoutRefreshTokenDropsAccess(t *testing.T) {
	relay := &fakeRelay{validAccess: "current"}
	pipe, store := newTestPipe(t, relay, "stale", "")

	_, err := pipe.Do(context.Background(), http.MethodGet, "/api/echo", nil)
	require.ErrorIs(t, err, types.ErrAuth)
	require.Zero(t, relay.counts().refreshCalls)
	require.Equal(t, 1, relay.counts().requests)

	access, _ := tokens(t, store)
	require.Empty(t, access)
}

func TestDoRefreshFailureDropsBoth(t *testing.T) {
	relay := &fakeRelay{validAccess: "current", validRefresh: "other"}
	pipe, store := newTestPipe(t, relay, "stale", "refresh")

	_, err := pipe.Do(context.Background(), http.MethodGet, "/api/echo", nil)
	require.ErrorIs(t, err, types.ErrAuth)

	var e *types.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, http.StatusUnauthorized, e.Status)
	require.Equal(t, "token expired", e.Message)

	require.Equal(t, 1, relay.counts().refreshCalls)
	require.Equal(t, 1, relay.counts().requests)
	access, refresh := tokens(t, store)
	require.Empty(t, access)
	require.Empty(t, refresh)
}

func TestDoSecondUnauthorizedDropsBoth(t *testing.T) {
	relay := &fakeRelay{validAccess: "current", validRefresh: "refresh"}
	pipe, store := newTestPipe(t, relay, "stale", "refresh")
	// the relay rotates tokens but keeps rejecting the new access token
	pipe.httpClient.Transport = rejectAfterRefresh{base: http.DefaultTransport}

	_, err := pipe.Do(context.Background(), http.MethodGet, "/api/echo", nil)
	require.ErrorIs(t, err, types.ErrAuth)
	require.Equal(t, 1, relay.counts().refreshCalls)

	access, refresh := tokens(t, store)
	require.Empty(t, access)
	require.Empty(t, refresh)
}

// rejectAfterRefresh answers every non-refresh request with 401.
type rejectAfterRefresh struct {
	base http.RoundTripper
}

func (r rejectAfterRefresh) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Path == RefreshPath {
		return r.base.RoundTrip(req)
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusUnauthorized)
	return rec.Result(), nil
}

func TestDoForbiddenDropsBothWithoutRetry(t *testing.T) {
	relay := &fakeRelay{validAccess: "current", validRefresh: "refresh", status: http.StatusForbidden}
	pipe, store := newTestPipe(t, relay, "current", "refresh")

	_, err := pipe.Do(context.Background(), http.MethodGet, "/api/echo", nil)
	require.ErrorIs(t, err, types.ErrAuth)
	require.Equal(t, 1, relay.counts().requests)
	require.Zero(t, relay.counts().refreshCalls)

	access, refresh := tokens(t, store)
	require.Empty(t, access)
	require.Empty(t, refresh)
}

func TestDoUpstreamError(t *testing.T) {
	relay := &fakeRelay{validAccess: "current", status: http.StatusInternalServerError}
	pipe, store := newTestPipe(t, relay, "current", "refresh")

	_, err := pipe.Do(context.Background(), http.MethodGet, "/api/echo", nil)
	require.ErrorIs(t, err, types.ErrUpstream)

	var e *types.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, http.StatusInternalServerError, e.Status)
	require.Equal(t, "request rejected", e.Message)

	access, refresh := tokens(t, store)
	require.Equal(t, "current", access)
	require.Equal(t, "refresh", refresh)
}

func TestDoTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger, _ := test.NewNullLogger()
	pipe := New(url, tokenstore.NewMemory(), logger)
	_, err := pipe.Do(context.Background(), http.MethodGet, "/api/echo", nil)
	require.ErrorIs(t, err, types.ErrTransport)
}

func TestConcurrentRefreshIsCoalesced(t *testing.T) {
	relay := &fakeRelay{validAccess: "current", validRefresh: "refresh"}
	pipe, store := newTestPipe(t, relay, "stale", "refresh")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = pipe.DoJSON(context.Background(), http.MethodGet, "/api/echo", nil, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, relay.counts().refreshCalls)
	access, _ := tokens(t, store)
	require.Equal(t, "new-access", access)
}

func TestDoRefreshServerErrorDropsBoth(t *testing.T) {
	relay := &fakeRelay{validAccess: "current", validRefresh: "refresh", refreshCode: http.StatusBadGateway}
	pipe, store := newTestPipe(t, relay, "stale", "refresh")

	_, err := pipe.Do(context.Background(), http.MethodGet, "/api/echo", nil)
	require.ErrorIs(t, err, types.ErrAuth)

	access, refresh := tokens(t, store)
	require.Empty(t, access)
	require.Empty(t, refresh)
}
