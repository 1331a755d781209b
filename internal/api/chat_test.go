package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vultisig/chat-relay/internal/datastream"
	"github.com/vultisig/chat-relay/internal/service"
	"github.com/vultisig/chat-relay/internal/types"
)

func chatBody(content string) types.ChatRequest {
	return types.ChatRequest{Messages: []types.ChatMessage{{Role: types.RoleUser, Content: content}}}
}

func TestChatStreamsReply(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t).AccessToken

	var hadDeadline bool
	env.open = func(ctx context.Context, history []types.ChatMessage) (service.CompletionStream, error) {
		_, hadDeadline = ctx.Deadline()
		require.Equal(t, "Hi", history[0].Content)
		return &scriptedStream{deltas: []string{"Hello", "!"}, finish: datastream.Finish{FinishReason: "stop"}}, nil
	}

	rec := env.do(t, http.MethodPost, "/api/chat", token, chatBody("Hi"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, datastream.HeaderValue, rec.Header().Get(datastream.HeaderName))
	require.Equal(t, "0:\"Hello\"\n0:\"!\"\nd:{\"finishReason\":\"stop\"}\n", rec.Body.String())
	require.True(t, hadDeadline)
}

func TestChatRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t).AccessToken
	called := false
	env.open = func(context.Context, []types.ChatMessage) (service.CompletionStream, error) {
		called = true
		return nil, errors.New("unreachable")
	}

	rec := env.do(t, http.MethodPost, "/api/chat", token, chatBody("   "))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/chat", token, types.ChatRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, called)
}

func TestChatOpenFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t).AccessToken
	env.open = func(context.Context, []types.ChatMessage) (service.CompletionStream, error) {
		return nil, types.StatusError(types.KindUpstream, 503, "overloaded")
	}

	rec := env.do(t, http.MethodPost, "/api/chat", token, chatBody("Hi"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, service.StreamErrorMessage, decodeError(t, rec))
}

func TestChatMidStreamFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t).AccessToken
	env.open = func(context.Context, []types.ChatMessage) (service.CompletionStream, error) {
		return &scriptedStream{deltas: []string{"Par"}, err: errors.New("reset")}, nil
	}

	rec := env.do(t, http.MethodPost, "/api/chat", token, chatBody("Hi"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0:\"Par\"\n3:\"error processing request\"\n", rec.Body.String())
}

func TestChatRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/chat", "", chatBody("Hi"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// stalledStream never produces text and only returns when its context ends.
type stalledStream struct {
	ctx    context.Context
	closed chan struct{}
}

func (s *stalledStream) Recv() (string, error) {
	<-s.ctx.Done()
	return "", s.ctx.Err()
}

func (s *stalledStream) Finish() datastream.Finish { return datastream.Finish{} }

func (s *stalledStream) Close() error {
	close(s.closed)
	return nil
}

func TestChatMaxDuration(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t).AccessToken
	env.server.maxDuration = 50 * time.Millisecond

	stream := &stalledStream{closed: make(chan struct{})}
	env.open = func(ctx context.Context, _ []types.ChatMessage) (service.CompletionStream, error) {
		stream.ctx = ctx
		return stream, nil
	}

	start := time.Now()
	rec := env.do(t, http.MethodPost, "/api/chat", token, chatBody("Hi"))
	require.Less(t, time.Since(start), 2*time.Second)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3:\"error processing request\"\n", rec.Body.String())
	select {
	case <-stream.closed:
	default:
		t.Fatal("stream was not closed")
	}
}
