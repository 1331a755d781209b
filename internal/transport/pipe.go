// Package transport sends authenticated requests to the relay, refreshing the
// access token once when it is rejected.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vultisig/chat-relay/internal/tokenstore"
	"github.com/vultisig/chat-relay/internal/types"
)

// RefreshPath is the token refresh endpoint.
const RefreshPath = "/users/refreshToken"

const (
	refreshTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

// Pipe attaches the stored bearer token to requests and handles
// authorization failures:
//
//   - 401: one refresh round trip, then the request is retried once. Without
//     a refresh token the access token is dropped. A failed refresh or a
//     second 401 drops both tokens.
//   - 403: both tokens are dropped and the request is not retried.
//
// Concurrent refreshes are coalesced into one round trip.
type Pipe struct {
	baseURL    string
	httpClient *http.Client
	store      tokenstore.Store
	logger     logrus.FieldLogger
	group      singleflight.Group
}

// Option configures a Pipe.
type Option func(*Pipe)

// WithHTTPClient overrides the HTTP client. It should not set a Timeout, as
// that would cut off streamed responses; use request contexts instead.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipe) { p.httpClient = c }
}

// New creates a Pipe for the relay at baseURL.
func New(baseURL string, store tokenstore.Store, logger logrus.FieldLogger, opts ...Option) *Pipe {
	p := &Pipe{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		store:      store,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do sends a request with body encoded as JSON (nil for none). On success the
// caller owns the response body. Failures are classified: auth for 401/403,
// upstream for any other non-2xx status, transport for network errors.
func (p *Pipe) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	token, err := p.accessToken()
	if err != nil {
		return nil, err
	}
	resp, err := p.send(ctx, method, path, payload, token)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusForbidden:
		return nil, p.forbidden(resp)
	case http.StatusUnauthorized:
		msg := readMessage(resp)
		fresh, err := p.refresh(ctx, token)
		if err != nil {
			return nil, &types.Error{Kind: types.KindAuth, Status: http.StatusUnauthorized, Message: msg, Err: err}
		}
		if resp, err = p.send(ctx, method, path, payload, fresh); err != nil {
			return nil, err
		}
		switch resp.StatusCode {
		case http.StatusForbidden:
			return nil, p.forbidden(resp)
		case http.StatusUnauthorized:
			p.clear()
			return nil, types.StatusError(types.KindAuth, resp.StatusCode, readMessage(resp))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.StatusError(types.KindUpstream, resp.StatusCode, readMessage(resp))
	}
	return resp, nil
}

// DoJSON sends a request and decodes a JSON response into out.
func (p *Pipe) DoJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := p.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", types.Classify(err, types.KindUpstream))
	}
	return nil
}

func (p *Pipe) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, types.NewError(types.KindTransport, method+" "+path, err)
	}
	return resp, nil
}

func (p *Pipe) accessToken() (string, error) {
	token, err := p.store.Get(tokenstore.KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	return strings.ReplaceAll(token, `"`, ""), nil
}

func (p *Pipe) forbidden(resp *http.Response) error {
	msg := readMessage(resp)
	p.clear()
	return types.StatusError(types.KindAuth, resp.StatusCode, msg)
}

func (p *Pipe) clear() {
	if err := p.store.Delete(tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken); err != nil {
		p.logger.WithError(err).Warn("failed to clear credentials")
	}
}

// refresh returns a usable access token after rejectedToken was refused.
// If another caller already rotated the token, the stored one is reused.
func (p *Pipe) refresh(ctx context.Context, rejectedToken string) (string, error) {
	v, err, _ := p.group.Do("refresh", func() (any, error) {
		if current, err := p.accessToken(); err == nil && current != "" && current != rejectedToken {
			return current, nil
		}

		refreshToken, err := p.store.Get(tokenstore.KeyRefreshToken)
		if err != nil {
			return "", fmt.Errorf("read refresh token: %w", err)
		}
		refreshToken = strings.ReplaceAll(refreshToken, `"`, "")
		if refreshToken == "" {
			if err := p.store.Delete(tokenstore.KeyAccessToken); err != nil {
				p.logger.WithError(err).Warn("failed to drop access token")
			}
			return "", errors.New("no refresh token")
		}

		// shared by every waiting caller, so not bound to one caller's cancellation
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		pair, err := p.exchange(rctx, refreshToken)
		if err != nil {
			p.logger.WithError(err).Warn("token refresh failed")
			p.clear()
			return "", fmt.Errorf("refresh token: %w", err)
		}
		if err := p.store.Set(tokenstore.KeyAccessToken, pair.AccessToken); err != nil {
			return "", fmt.Errorf("store access token: %w", err)
		}
		if err := p.store.Set(tokenstore.KeyRefreshToken, pair.RefreshToken); err != nil {
			return "", fmt.Errorf("store refresh token: %w", err)
		}
		p.logger.Debug("access token refreshed")
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Pipe) exchange(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	resp, err := p.send(ctx, http.MethodPost, RefreshPath, payload, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.StatusError(types.KindAuth, resp.StatusCode, readMessage(resp))
	}
	var pair types.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if pair.AccessToken == "" {
		return nil, errors.New("refresh response missing access token")
	}
	return &pair, nil
}

// readMessage drains and closes resp, returning the server's error message.
func readMessage(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return http.StatusText(resp.StatusCode)
	}
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
