package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/vultisig/chat-relay/internal/datastream"
	"github.com/vultisig/chat-relay/internal/types"
)

const (
	defaultModel     = gopenai.GPT3Dot5Turbo
	defaultMaxTokens = 1024
	defaultVoice     = "alloy"
)

// Client streams chat completions and synthesizes speech through the OpenAI API.
type Client struct {
	client       *gopenai.Client
	model        string
	maxTokens    int
	systemPrompt string
}

// Option configures a Client.
type Option func(*Client)

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithSystemPrompt prepends a system message to every conversation.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) { c.systemPrompt = prompt }
}

// NewClient creates a new OpenAI client. An empty baseURL uses the public API.
func NewClient(apiKey, baseURL, model string, opts ...Option) *Client {
	cfg := gopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		client:    gopenai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StreamChat opens a streaming completion for history. Attachments are not
// forwarded to the model.
func (c *Client) StreamChat(ctx context.Context, history []types.ChatMessage) (*Stream, error) {
	messages := make([]gopenai.ChatCompletionMessage, 0, len(history)+1)
	if c.systemPrompt != "" {
		messages = append(messages, gopenai.ChatCompletionMessage{
			Role:    gopenai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	for _, m := range history {
		messages = append(messages, gopenai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, gopenai.ChatCompletionRequest{
		Model:         c.model,
		Messages:      messages,
		MaxTokens:     c.maxTokens,
		Stream:        true,
		StreamOptions: &gopenai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create completion stream: %w", classify(err))
	}
	return &Stream{stream: stream}, nil
}

// Stream is an open completion stream.
type Stream struct {
	stream       *gopenai.ChatCompletionStream
	finishReason string
	usage        *datastream.Usage
}

// Recv returns the next non-empty text fragment, or io.EOF at the end.
func (s *Stream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", classify(err)
		}
		if resp.Usage != nil {
			s.usage = &datastream.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			s.finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			return choice.Delta.Content, nil
		}
	}
}

// Finish returns the finish metadata collected so far.
func (s *Stream) Finish() datastream.Finish {
	reason := s.finishReason
	if reason == "" {
		reason = "unknown"
	}
	return datastream.Finish{FinishReason: reason, Usage: s.usage}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.stream.Close()
}

// Synthesize converts text to speech. voice and format fall back to alloy
// and mp3.
func (c *Client) Synthesize(ctx context.Context, req types.SpeechRequest) (*types.Audio, error) {
	voice := req.VoiceID
	if voice == "" {
		voice = defaultVoice
	}
	format := req.AudioFormat
	if format == "" {
		format = string(gopenai.SpeechResponseFormatMp3)
	}

	resp, err := c.client.CreateSpeech(ctx, gopenai.CreateSpeechRequest{
		Model:          gopenai.TTSModel1,
		Input:          req.Text,
		Voice:          gopenai.SpeechVoice(voice),
		ResponseFormat: gopenai.SpeechResponseFormat(format),
	})
	if err != nil {
		return nil, fmt.Errorf("create speech: %w", classify(err))
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", types.Classify(err, types.KindTransport))
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		contentType = formatContentType(format)
	}
	return &types.Audio{ContentType: contentType, Data: data}, nil
}

func formatContentType(format string) string {
	switch format {
	case "opus":
		return "audio/ogg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// classify maps SDK errors onto the error taxonomy: responses with a status
// become upstream errors, everything else is a transport failure.
func classify(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		kind := types.KindUpstream
		if apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden {
			kind = types.KindAuth
		}
		return &types.Error{Kind: kind, Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *gopenai.RequestError
	if errors.As(err, &reqErr) {
		return &types.Error{Kind: types.KindUpstream, Status: reqErr.HTTPStatusCode, Err: err}
	}
	return types.Classify(err, types.KindTransport)
}
