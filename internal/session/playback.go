package session

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/types"
)

// Synthesizer turns text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*types.Audio, error)
}

// AudioHandle controls audio that is playing.
type AudioHandle interface {
	Stop()
}

// Player starts playback of synthesized audio. onEnded must be called once
// when playback finishes on its own; it may be called before Play returns.
type Player interface {
	Play(audio *types.Audio, onEnded func()) (AudioHandle, error)
}

type playbackEntry struct {
	playing bool
	// gen invalidates in-flight synthesis and stale end callbacks.
	gen    uint64
	handle AudioHandle
	err    error
	// cancel aborts synthesis for the current generation.
	cancel context.CancelFunc
}

// Playback tracks per-message text-to-speech playback.
type Playback struct {
	synth     Synthesizer
	player    Player
	logger    logrus.FieldLogger
	exclusive bool

	mu        sync.Mutex
	entries   map[string]*playbackEntry
	listeners []func()
	onError   func(messageID string, err error)
	wg        sync.WaitGroup
}

// PlaybackOption configures a Playback.
type PlaybackOption func(*Playback)

// WithConcurrentPlayback lets several messages play at the same time. By
// default starting one message stops any other.
func WithConcurrentPlayback() PlaybackOption {
	return func(p *Playback) { p.exclusive = false }
}

// WithErrorHandler registers a callback for synthesis and playback failures.
func WithErrorHandler(fn func(messageID string, err error)) PlaybackOption {
	return func(p *Playback) { p.onError = fn }
}

// NewPlayback creates a Playback.
func NewPlayback(synth Synthesizer, player Player, logger logrus.FieldLogger, opts ...PlaybackOption) *Playback {
	p := &Playback{
		synth:     synth,
		player:    player,
		logger:    logger,
		exclusive: true,
		entries:   make(map[string]*playbackEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnChange registers fn to be called after every playback state change.
func (p *Playback) OnChange(fn func()) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// IsPlaying reports whether messageID is marked playing.
func (p *Playback) IsPlaying(messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[messageID]
	return ok && e.playing
}

// Playing returns the ids of all messages currently marked playing.
func (p *Playback) Playing() map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]bool)
	for id, e := range p.entries {
		if e.playing {
			out[id] = true
		}
	}
	return out
}

// Err returns the last synthesis or playback error for messageID.
func (p *Playback) Err(messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[messageID]; ok {
		return e.err
	}
	return nil
}

// Toggle stops messageID if it is playing, otherwise synthesizes text and
// plays it. The entry is marked playing immediately; synthesis runs in the
// background and failures are reported through the error handler and Err,
// never returned.
func (p *Playback) Toggle(ctx context.Context, messageID, text string) {
	p.mu.Lock()
	e, ok := p.entries[messageID]
	if !ok {
		e = &playbackEntry{}
		p.entries[messageID] = e
	}

	if e.playing {
		h := p.stopLocked(e)
		p.mu.Unlock()
		if h != nil {
			h.Stop()
		}
		p.notify()
		return
	}

	var stopped []AudioHandle
	if p.exclusive {
		for id, other := range p.entries {
			if id == messageID || !other.playing {
				continue
			}
			if h := p.stopLocked(other); h != nil {
				stopped = append(stopped, h)
			}
		}
	}
	e.playing = true
	e.gen++
	e.err = nil
	gen := e.gen
	synthCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	for _, h := range stopped {
		h.Stop()
	}
	p.notify()
	go p.synthesize(synthCtx, cancel, messageID, text, gen)
}

// Wait blocks until all background synthesis started by Toggle has settled.
func (p *Playback) Wait() {
	p.wg.Wait()
}

func (p *Playback) stopLocked(e *playbackEntry) AudioHandle {
	h := e.handle
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.playing = false
	e.handle = nil
	e.gen++
	return h
}

func (p *Playback) synthesize(ctx context.Context, cancel context.CancelFunc, messageID, text string, gen uint64) {
	defer p.wg.Done()
	defer cancel()

	audio, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		p.fail(messageID, gen, types.Classify(err, types.KindTransport))
		return
	}
	if !p.current(messageID, gen) {
		return
	}

	handle, err := p.player.Play(audio, func() { p.ended(messageID, gen) })
	if err != nil {
		p.fail(messageID, gen, err)
		return
	}

	p.mu.Lock()
	e := p.entries[messageID]
	if e.gen != gen || !e.playing {
		p.mu.Unlock()
		handle.Stop()
		return
	}
	e.handle = handle
	p.mu.Unlock()
}

func (p *Playback) current(messageID string, gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := p.entries[messageID]
	return e.gen == gen && e.playing
}

func (p *Playback) ended(messageID string, gen uint64) {
	p.mu.Lock()
	e := p.entries[messageID]
	if e.gen != gen {
		p.mu.Unlock()
		return
	}
	e.playing = false
	e.handle = nil
	p.mu.Unlock()
	p.notify()
}

func (p *Playback) fail(messageID string, gen uint64, err error) {
	p.mu.Lock()
	e := p.entries[messageID]
	if e.gen != gen {
		p.mu.Unlock()
		return
	}
	e.playing = false
	e.handle = nil
	e.err = err
	onError := p.onError
	p.mu.Unlock()

	p.logger.WithError(err).WithField("message_id", messageID).Warn("text-to-speech failed")
	if onError != nil {
		onError(messageID, err)
	}
	p.notify()
}

func (p *Playback) notify() {
	p.mu.Lock()
	listeners := append([]func(){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}
