package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/datastream"
	"github.com/vultisig/chat-relay/internal/events"
	"github.com/vultisig/chat-relay/internal/types"
)

// StreamErrorMessage is sent to clients in place of provider error details.
const StreamErrorMessage = "error processing request"

const publishTimeout = 5 * time.Second

// CompletionStream is an open provider stream.
type CompletionStream interface {
	types.TextStream
	Finish() datastream.Finish
}

// CompletionProvider opens streaming completions.
type CompletionProvider interface {
	StreamChat(ctx context.Context, history []types.ChatMessage) (CompletionStream, error)
}

// ProviderFunc adapts a function to a CompletionProvider.
type ProviderFunc func(ctx context.Context, history []types.ChatMessage) (CompletionStream, error)

func (f ProviderFunc) StreamChat(ctx context.Context, history []types.ChatMessage) (CompletionStream, error) {
	return f(ctx, history)
}

// RelayRequest describes one relayed chat request.
type RelayRequest struct {
	RequestID string
	UserID    string
	Messages  []types.ChatMessage
	Started   time.Time
}

func (r RelayRequest) attachments() int {
	n := 0
	for _, m := range r.Messages {
		n += len(m.Attachments)
	}
	return n
}

// RelayService forwards chat histories to the completion provider and
// streams the reply to clients in the data-stream format. Nothing is stored.
type RelayService struct {
	provider    CompletionProvider
	publisher   events.Publisher
	model       string
	maxMessages int
	logger      *logrus.Logger
}

// NewRelayService creates a RelayService.
func NewRelayService(provider CompletionProvider, publisher events.Publisher, model string, maxMessages int, logger *logrus.Logger) *RelayService {
	return &RelayService{
		provider:    provider,
		publisher:   publisher,
		model:       model,
		maxMessages: maxMessages,
		logger:      logger,
	}
}

// Validate rejects histories that cannot be relayed.
func (s *RelayService) Validate(messages []types.ChatMessage) error {
	if len(messages) == 0 {
		return types.NewError(types.KindValidation, "messages are required", nil)
	}
	if s.maxMessages > 0 && len(messages) > s.maxMessages {
		return types.NewError(types.KindValidation, fmt.Sprintf("at most %d messages are allowed", s.maxMessages), nil)
	}
	hasInput := false
	for i, m := range messages {
		if !m.Role.Valid() {
			return types.NewError(types.KindValidation, fmt.Sprintf("message %d has invalid role %q", i, m.Role), nil)
		}
		if strings.TrimSpace(m.Content) != "" || len(m.Attachments) > 0 {
			hasInput = true
		}
	}
	if !hasInput {
		return types.NewError(types.KindValidation, "messages are empty", nil)
	}
	return nil
}

// Open starts the provider stream. Attachments are counted but not forwarded.
func (s *RelayService) Open(ctx context.Context, req RelayRequest) (CompletionStream, error) {
	s.logger.WithFields(logrus.Fields{
		"request_id":  req.RequestID,
		"user_id":     req.UserID,
		"messages":    len(req.Messages),
		"attachments": req.attachments(),
	}).Info("relaying chat request")

	stream, err := s.provider.StreamChat(ctx, req.Messages)
	if err != nil {
		err = types.Classify(err, types.KindUpstream)
		s.publish(ctx, req, 0, datastream.Finish{}, err)
		return nil, fmt.Errorf("open completion: %w", err)
	}
	return stream, nil
}

// Pipe copies stream onto w until the provider ends or fails. A provider
// failure is written as an error part before returning. The stream is closed.
func (s *RelayService) Pipe(ctx context.Context, stream CompletionStream, w *datastream.Writer, req RelayRequest) error {
	defer func() {
		if err := stream.Close(); err != nil {
			s.logger.WithError(err).Debug("failed to close completion stream")
		}
	}()

	size := 0
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			finish := stream.Finish()
			if err := w.Finish(finish); err != nil {
				return s.done(ctx, req, size, finish, fmt.Errorf("write finish: %w", types.Classify(err, types.KindTransport)))
			}
			return s.done(ctx, req, size, finish, nil)
		}
		if err != nil {
			err = types.Classify(err, types.KindUpstream)
			if werr := w.Error(StreamErrorMessage); werr != nil {
				s.logger.WithError(werr).Debug("failed to write error part")
			}
			return s.done(ctx, req, size, datastream.Finish{FinishReason: "error"}, err)
		}
		if err := w.Text(delta); err != nil {
			return s.done(ctx, req, size, datastream.Finish{}, fmt.Errorf("write text: %w", types.Classify(err, types.KindTransport)))
		}
		size += len(delta)
	}
}

func (s *RelayService) done(ctx context.Context, req RelayRequest, size int, finish datastream.Finish, err error) error {
	fields := logrus.Fields{
		"request_id":     req.RequestID,
		"response_bytes": size,
		"finish_reason":  finish.FinishReason,
		"duration":       time.Since(req.Started).String(),
	}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Warn("chat relay failed")
	} else {
		s.logger.WithFields(fields).Info("chat relay finished")
	}
	s.publish(ctx, req, size, finish, err)
	return err
}

func (s *RelayService) publish(ctx context.Context, req RelayRequest, size int, finish datastream.Finish, err error) {
	data := events.CompletionFinished{
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		Model:         s.model,
		Messages:      len(req.Messages),
		Attachments:   req.attachments(),
		ResponseBytes: size,
		FinishReason:  finish.FinishReason,
		DurationMs:    time.Since(req.Started).Milliseconds(),
	}
	if finish.Usage != nil {
		data.PromptTokens = finish.Usage.PromptTokens
		data.OutputTokens = finish.Usage.CompletionTokens
	}
	if err != nil {
		data.Error = err.Error()
	}

	// the request context may already be cancelled
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, events.NewEnvelope(events.TypeCompletionFinished, req.RequestID, data)); err != nil {
		s.logger.WithError(err).WithField("request_id", req.RequestID).Warn("failed to publish usage event")
	}
}
