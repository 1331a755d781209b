package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Session ties the controller, playback and local UI state together.
type Session struct {
	Controller *Controller
	Playback   *Playback

	loc *time.Location
	now func() time.Time

	mu    sync.Mutex
	theme Theme
	input string
}

// New creates a Session with the dark theme active.
func New(completer Completer, synth Synthesizer, player Player, logger logrus.FieldLogger, loc *time.Location, opts ...PlaybackOption) *Session {
	if loc == nil {
		loc = time.Local
	}
	return &Session{
		Controller: NewController(completer, logger),
		Playback:   NewPlayback(synth, player, logger, opts...),
		loc:        loc,
		now:        time.Now,
		theme:      ThemeDark,
	}
}

// OnChange registers fn for controller and playback changes.
func (s *Session) OnChange(fn func()) {
	s.Controller.OnChange(fn)
	s.Playback.OnChange(fn)
}

// ToggleTheme switches between dark and light and returns the new theme.
func (s *Session) ToggleTheme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = s.theme.Toggled()
	return s.theme
}

// Theme returns the active theme.
func (s *Session) Theme() Theme {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

// SetInput records the text currently being composed.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// Send submits the composed input with the staged attachment and clears the input.
func (s *Session) Send(ctx context.Context) (*Turn, error) {
	s.mu.Lock()
	text := s.input
	s.mu.Unlock()

	turn, err := s.Controller.SubmitPending(ctx, text)
	if err != nil {
		return nil, err
	}
	s.SetInput("")
	return turn, nil
}

// Play toggles speech for the message with the given id.
func (s *Session) Play(ctx context.Context, messageID string) bool {
	for _, m := range s.Controller.Messages() {
		if m.ID == messageID {
			s.Playback.Toggle(ctx, m.ID, m.Content)
			return true
		}
	}
	return false
}

// View derives the current view.
func (s *Session) View() View {
	s.mu.Lock()
	local := LocalState{Theme: s.theme, Input: s.input}
	s.mu.Unlock()

	local.Pending = s.Controller.PendingAttachment()
	local.Playing = s.Playback.Playing()

	snap := Snapshot{
		Messages: s.Controller.Messages(),
		Status:   s.Controller.Status(),
		Err:      s.Controller.LastError(),
	}
	return Derive(snap, local, s.now(), s.loc)
}
