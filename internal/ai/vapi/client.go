package vapi

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

	"github.com/vultisig/chat-relay/internal/types"
)

const (
	defaultBaseURL = "https://api.vapi.ai"
	DefaultVoiceID = "eleven_monolingual_v1"
	DefaultFormat  = "mp3"
)

// Client is a Vapi text-to-speech API client.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// Request is the request body for the tts endpoint.
type Request struct {
	Text        string `json:"text"`
	VoiceID     string `json:"voice_id"`
	AudioFormat string `json:"audio_format"`
}

// APIError represents an error from the Vapi API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vapi: status %d: %s", e.StatusCode, e.Message)
}

// NewClient creates a new Vapi client. An empty baseURL uses the public API.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize converts text to speech and returns the raw audio.
func (c *Client) Synthesize(ctx context.Context, req types.SpeechRequest) (*types.Audio, error) {
	body, err := json.Marshal(Request{
		Text:        req.Text,
		VoiceID:     orDefault(req.VoiceID, DefaultVoiceID),
		AudioFormat: orDefault(req.AudioFormat, DefaultFormat),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", types.Classify(err, types.KindTransport))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", types.Classify(err, types.KindTransport))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return nil, &types.Error{Kind: kindFor(resp.StatusCode), Status: resp.StatusCode, Err: apiErr}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/json") {
		return nil, &types.Error{Kind: types.KindUpstream, Status: resp.StatusCode, Err: errors.New("vapi: response is not audio")}
	}
	return &types.Audio{ContentType: contentType, Data: respBody}, nil
}

func kindFor(status int) types.ErrorKind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return types.KindAuth
	}
	return types.KindUpstream
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
