package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/types"
)

// Completer opens a streaming completion for an ordered conversation history.
type Completer interface {
	StreamChat(ctx context.Context, history []types.ChatMessage) (types.TextStream, error)
}

// SubmissionStatus tells whether a completion request is outstanding.
type SubmissionStatus string

const (
	Idle     SubmissionStatus = "idle"
	InFlight SubmissionStatus = "in-flight"
)

// Controller owns the ordered message list and drives completion requests.
// At most one request is in flight at a time.
type Controller struct {
	completer Completer
	logger    logrus.FieldLogger
	now       func() time.Time
	newID     func() string

	mu        sync.Mutex
	messages  []*Message
	inFlight  bool
	lastErr   error
	pending   *PendingAttachment
	listeners []func()
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the clock used for message timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator overrides message id generation.
func WithIDGenerator(newID func() string) ControllerOption {
	return func(c *Controller) { c.newID = newID }
}

// NewController creates a Controller.
func NewController(completer Completer, logger logrus.FieldLogger, opts ...ControllerOption) *Controller {
	c := &Controller{
		completer: completer,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to be called after every state change. Listeners run
// outside the controller lock and may read its state.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Messages returns a snapshot of the conversation in order.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

// Status returns the current submission status.
func (c *Controller) Status() SubmissionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return InFlight
	}
	return Idle
}

// LastError returns the error of the most recent failed submission, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// PendingAttachment returns the staged attachment, or nil.
func (c *Controller) PendingAttachment() *PendingAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// SetPendingAttachment stages f for the next submission, replacing any
// previously staged file.
func (c *Controller) SetPendingAttachment(f File) {
	c.mu.Lock()
	c.pending = newPendingAttachment(f)
	c.mu.Unlock()
	c.notify()
}

// CancelPendingAttachment drops the staged file. It is a no-op when nothing
// is staged.
func (c *Controller) CancelPendingAttachment() {
	c.mu.Lock()
	changed := c.pending != nil
	c.pending = nil
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// SubmitPending submits text together with the staged attachment, if any.
// The attachment is taken and cleared atomically with the submission.
func (c *Controller) SubmitPending(ctx context.Context, text string) (*Turn, error) {
	return c.submit(ctx, text, nil, true)
}

// Submit appends a user message and starts streaming the assistant reply in
// the background. It fails with a validation error when both text and file
// are empty, and with a busy error while another submission is in flight;
// neither failure changes any state.
func (c *Controller) Submit(ctx context.Context, text string, file *File) (*Turn, error) {
	return c.submit(ctx, text, file, false)
}

func (c *Controller) submit(ctx context.Context, text string, file *File, usePending bool) (*Turn, error) {
	c.mu.Lock()
	if usePending && c.pending != nil {
		f := c.pending.File
		file = &f
	}
	if c.inFlight {
		c.mu.Unlock()
		c.logger.Debug("submission rejected: request already in flight")
		return nil, types.NewError(types.KindBusy, "a completion request is already in flight", nil)
	}
	if strings.TrimSpace(text) == "" && file == nil {
		c.mu.Unlock()
		return nil, types.NewError(types.KindValidation, "message text or attachment is required", nil)
	}

	userMsg := &Message{
		ID:        c.newID(),
		Role:      types.RoleUser,
		Content:   text,
		CreatedAt: c.now(),
		Status:    StatusComplete,
	}
	if file != nil {
		userMsg.Attachments = []types.Attachment{file.Attachment()}
	}
	c.messages = append(c.messages, userMsg)
	c.inFlight = true
	c.lastErr = nil
	c.pending = nil
	history := c.historyLocked()
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	turn := &Turn{
		UserMessageID: userMsg.ID,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	c.logger.WithFields(logrus.Fields{
		"message_id":  userMsg.ID,
		"history":     len(history),
		"attachments": len(userMsg.Attachments),
	}).Debug("submitting message")

	c.notify()
	go c.run(runCtx, turn, history)
	return turn, nil
}

// historyLocked converts the conversation to the wire history. Assistant
// messages that never received content are left out.
func (c *Controller) historyLocked() []types.ChatMessage {
	history := make([]types.ChatMessage, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Role == types.RoleAssistant && m.Content == "" {
			continue
		}
		msg := types.ChatMessage{Role: m.Role, Content: m.Content}
		if len(m.Attachments) > 0 {
			msg.Attachments = append([]types.Attachment(nil), m.Attachments...)
		}
		history = append(history, msg)
	}
	return history
}

func (c *Controller) run(ctx context.Context, turn *Turn, history []types.ChatMessage) {
	defer turn.cancel()

	stream, err := c.completer.StreamChat(ctx, history)
	if err != nil {
		c.finish(turn, nil, types.Classify(err, types.KindTransport))
		return
	}
	closeStream := sync.OnceFunc(func() {
		if err := stream.Close(); err != nil {
			c.logger.WithError(err).Debug("failed to close completion stream")
		}
	})
	defer closeStream()
	// unblocks Recv on streams that do not watch ctx themselves
	stop := context.AfterFunc(ctx, closeStream)
	defer stop()

	assistant := &Message{
		ID:        c.newID(),
		Role:      types.RoleAssistant,
		CreatedAt: c.now(),
		Status:    StatusStreaming,
	}
	c.mu.Lock()
	c.messages = append(c.messages, assistant)
	c.mu.Unlock()
	turn.setAssistantID(assistant.ID)
	c.notify()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			c.finish(turn, assistant, nil)
			return
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && types.KindOf(err) == "" {
				err = ctxErr
			}
			c.finish(turn, assistant, types.Classify(err, types.KindTransport))
			return
		}
		if delta == "" {
			continue
		}
		c.mu.Lock()
		assistant.Content += delta
		c.mu.Unlock()
		c.notify()
	}
}

func (c *Controller) finish(turn *Turn, assistant *Message, err error) {
	c.mu.Lock()
	if assistant != nil {
		if err != nil {
			assistant.Status = StatusFailed
		} else {
			assistant.Status = StatusComplete
		}
	}
	c.inFlight = false
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.logger.WithError(err).Warn("completion failed")
	}
	turn.complete(err)
	c.notify()
}

func (c *Controller) notify() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Turn tracks one submission.
type Turn struct {
	UserMessageID string

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	assistantID string
	err         error
}

// Done is closed once the turn has completed or failed.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the turn ends and returns its error.
func (t *Turn) Wait() error {
	<-t.done
	return t.Err()
}

// Err returns the turn's error once it has ended.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// AssistantMessageID returns the id of the reply, or "" if the stream never opened.
func (t *Turn) AssistantMessageID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assistantID
}

// Cancel abandons the turn. The stream is closed and the reply is marked failed.
func (t *Turn) Cancel() {
	t.cancel()
}

func (t *Turn) setAssistantID(id string) {
	t.mu.Lock()
	t.assistantID = id
	t.mu.Unlock()
}

func (t *Turn) complete(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	close(t.done)
}
