// Package relay is the client side of the chat relay API.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vultisig/chat-relay/internal/datastream"
	"github.com/vultisig/chat-relay/internal/tokenstore"
	"github.com/vultisig/chat-relay/internal/transport"
	"github.com/vultisig/chat-relay/internal/types"
)

// API paths.
const (
	PathLogin    = "/users/authenticateTerminal"
	PathUserInfo = "/users/getInfo"
	PathChat     = "/api/chat"
	PathSpeech   = "/api/tts"
)

const maxAudioSize = 32 << 20

// LoginResponse is returned by a terminal login.
type LoginResponse struct {
	types.TokenPair
	User types.User `json:"user"`
}

// Client talks to the relay through an authenticating pipe.
type Client struct {
	pipe    *transport.Pipe
	store   tokenstore.Store
	timeout time.Duration
}

// NewClient creates a Client. timeout bounds non-streaming calls; streamed
// chat replies are bounded by the caller's context only.
func NewClient(pipe *transport.Pipe, store tokenstore.Store, timeout time.Duration) *Client {
	return &Client{pipe: pipe, store: store, timeout: timeout}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Login exchanges a signed terminal query string for tokens and stores them.
func (c *Client) Login(ctx context.Context, queryString string) (*LoginResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var resp LoginResponse
	if err := c.pipe.DoJSON(ctx, http.MethodPost, PathLogin, map[string]string{"queryString": queryString}, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := c.store.Set(tokenstore.KeyAccessToken, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("store access token: %w", err)
	}
	if err := c.store.Set(tokenstore.KeyRefreshToken, resp.RefreshToken); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &resp, nil
}

// Logout forgets the stored tokens.
func (c *Client) Logout() error {
	return c.store.Delete(tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken)
}

// UserInfo returns the signed-in user.
func (c *Client) UserInfo(ctx context.Context) (*types.User, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var user types.User
	if err := c.pipe.DoJSON(ctx, http.MethodGet, PathUserInfo, nil, &user); err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}
	return &user, nil
}

// Synthesize requests speech for text with the relay's default voice.
func (c *Client) Synthesize(ctx context.Context, text string) (*types.Audio, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.pipe.Do(ctx, http.MethodPost, PathSpeech, types.SpeechRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", types.Classify(err, types.KindTransport))
	}
	return &types.Audio{ContentType: resp.Header.Get("Content-Type"), Data: data}, nil
}

// StreamChat posts history to the relay and returns the streamed reply.
func (c *Client) StreamChat(ctx context.Context, history []types.ChatMessage) (types.TextStream, error) {
	resp, err := c.pipe.Do(ctx, http.MethodPost, PathChat, types.ChatRequest{Messages: history})
	if err != nil {
		return nil, fmt.Errorf("open chat stream: %w", err)
	}
	return &chatStream{body: resp.Body, reader: datastream.NewReader(resp.Body)}, nil
}

// chatStream turns data-stream parts into text fragments.
type chatStream struct {
	body   io.ReadCloser
	reader *datastream.Reader
	finish *datastream.Finish
}

func (s *chatStream) Recv() (string, error) {
	if s.finish != nil {
		return "", io.EOF
	}
	for {
		part, err := s.reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return "", types.NewError(types.KindTransport, "stream ended before completion", err)
			}
			return "", types.Classify(err, types.KindTransport)
		}
		switch part.Code {
		case datastream.PartText:
			if part.Text == "" {
				continue
			}
			return part.Text, nil
		case datastream.PartError:
			return "", types.NewError(types.KindUpstream, part.Text, nil)
		case datastream.PartFinish:
			s.finish = part.Finish
			return "", io.EOF
		}
	}
}

func (s *chatStream) Close() error {
	return s.body.Close()
}
