package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/chat-relay/internal/cache/redis"
	"github.com/vultisig/chat-relay/internal/datastream"
	"github.com/vultisig/chat-relay/internal/events"
	"github.com/vultisig/chat-relay/internal/service"
	"github.com/vultisig/chat-relay/internal/storage/postgres"
	"github.com/vultisig/chat-relay/internal/types"
)

const terminalSecret = "bot-secret"

type memKV struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.ErrCacheMiss
	}
	return v, nil
}

func (m *memKV) GetDel(ctx context.Context, key string) (string, error) {
	v, err := m.Get(ctx, key)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*types.User
}

func (m *memUsers) UpsertByExternalID(_ context.Context, externalID string, displayName *string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	u := &types.User{ID: uuid.New(), ExternalID: externalID, DisplayName: displayName, CreatedAt: time.Now()}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) disableAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, u := range m.users {
		u.DisabledAt = &now
	}
}

type scriptedStream struct {
	deltas []string
	err    error
	finish datastream.Finish
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.deltas) > 0 {
		d := s.deltas[0]
		s.deltas = s.deltas[1:]
		return d, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *scriptedStream) Finish() datastream.Finish { return s.finish }
func (s *scriptedStream) Close() error              { return nil }

type fakeSpeech struct {
	err error
}

func (f *fakeSpeech) Synthesize(_ context.Context, req types.SpeechRequest) (*types.Audio, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Audio{ContentType: "audio/mpeg", Data: []byte("audio:" + req.Text + ":" + req.VoiceID)}, nil
}

type testEnv struct {
	e        *echo.Echo
	server   *Server
	users    *memUsers
	speech   *fakeSpeech
	open     func(ctx context.Context, history []types.ChatMessage) (service.CompletionStream, error)
}

func nullLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestEnv(t *testing.T, limiter *RateLimiter) *testEnv {
	t.Helper()
	logger := nullLogger()
	env := &testEnv{
		users:  &memUsers{users: map[uuid.UUID]*types.User{}},
		speech: &fakeSpeech{},
	}
	env.open = func(context.Context, []types.ChatMessage) (service.CompletionStream, error) {
		return &scriptedStream{deltas: []string{"Hello", "!"}, finish: datastream.Finish{FinishReason: "stop"}}, nil
	}

	auth := service.NewAuthService("jwt-secret", 15*time.Minute, time.Hour, &memKV{data: map[string]string{}}, env.users,
		service.NewTerminalVerifier(terminalSecret, time.Hour), logger)
	relay := service.NewRelayService(service.ProviderFunc(func(ctx context.Context, history []types.ChatMessage) (service.CompletionStream, error) {
		return env.open(ctx, history)
	}), events.Nop{}, "gpt-3.5-turbo", 10, logger)
	speech := service.NewSpeechService(env.speech, nil, time.Hour, "eleven_monolingual_v1", "mp3", 100, logger)

	env.e = echo.New()
	env.e.Use(middleware.RequestID())
	env.server = NewServer(auth, relay, speech, limiter, 5*time.Second, logger)
	env.server.RegisterRoutes(env.e)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func loginQuery(id string) string {
	return service.NewTerminalVerifier(terminalSecret, 0).Sign(url.Values{
		"id":        {id},
		"name":      {"Ada"},
		"auth_date": {strconv.FormatInt(time.Now().Unix(), 10)},
	})
}

func (env *testEnv) login(t *testing.T) service.LoginResult {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/users/authenticateTerminal", "", AuthenticateTerminalRequest{QueryString: loginQuery("42")})
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.LoginResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var res ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res.Error
}
