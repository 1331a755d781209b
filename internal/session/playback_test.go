package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vultisig/chat-relay/internal/types"
)

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	gate  chan struct{}
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (*types.Audio, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.Audio{ContentType: "audio/mpeg", Data: []byte(text)}, nil
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fakeHandle struct {
	mu      sync.Mutex
	stops   int
	onEnded func()
}

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
}

func (h *fakeHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

type fakePlayer struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
}

func (p *fakePlayer) Play(audio *types.Audio, onEnded func()) (AudioHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	h := &fakeHandle{onEnded: onEnded}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakePlayer) handle(i int) *fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[i]
}

func (p *fakePlayer) plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func TestToggleTwiceBeforeSynthesisResolves(t *testing.T) {
	synth := &fakeSynth{gate: make(chan struct{})}
	player := &fakePlayer{}
	p := NewPlayback(synth, player, quietLogger())

	p.Toggle(context.Background(), "m1", "hello")
	require.True(t, p.IsPlaying("m1"))
	p.Toggle(context.Background(), "m1", "hello")
	require.False(t, p.IsPlaying("m1"))

	close(synth.gate)
	p.Wait()

	require.False(t, p.IsPlaying("m1"))
	require.LessOrEqual(t, synth.calls(), 1)
	require.Zero(t, player.plays())
	require.NoError(t, p.Err("m1"))
}

func TestPlaybackEndsNaturally(t *testing.T) {
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewPlayback(synth, player, quietLogger())

	p.Toggle(context.Background(), "m1", "hello")
	p.Wait()
	require.True(t, p.IsPlaying("m1"))
	require.Equal(t, map[string]bool{"m1": true}, p.Playing())

	player.handle(0).onEnded()
	require.False(t, p.IsPlaying("m1"))
	require.Empty(t, p.Playing())
}

func TestToggleStopsPlayingAudio(t *testing.T) {
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewPlayback(synth, player, quietLogger())

	p.Toggle(context.Background(), "m1", "hello")
	p.Wait()
	h := player.handle(0)

	p.Toggle(context.Background(), "m1", "hello")
	require.False(t, p.IsPlaying("m1"))
	require.Equal(t, 1, h.stopCount())

	// a late end callback from the stopped audio is ignored
	p.Toggle(context.Background(), "m1", "hello")
	p.Wait()
	h.onEnded()
	require.True(t, p.IsPlaying("m1"))
}

func TestSynthesisFailureResetsPlaying(t *testing.T) {
	synth := &fakeSynth{err: errors.New("connection refused")}
	player := &fakePlayer{}

	var mu sync.Mutex
	var reported []string
	p := NewPlayback(synth, player, quietLogger(), WithErrorHandler(func(id string, err error) {
		mu.Lock()
		reported = append(reported, id)
		mu.Unlock()
	}))

	p.Toggle(context.Background(), "m1", "hello")
	p.Wait()

	require.False(t, p.IsPlaying("m1"))
	require.ErrorIs(t, p.Err("m1"), types.ErrTransport)
	require.Zero(t, player.plays())
	mu.Lock()
	require.Equal(t, []string{"m1"}, reported)
	mu.Unlock()
}

func TestPlayerFailureResetsPlaying(t *testing.T) {
	synth := &fakeSynth{}
	player := &fakePlayer{err: errors.New("no audio device")}
	p := NewPlayback(synth, player, quietLogger())

	p.Toggle(context.Background(), "m1", "hello")
	p.Wait()

	require.False(t, p.IsPlaying("m1"))
	require.EqualError(t, p.Err("m1"), "no audio device")

	// retrying clears the previous error
	player.mu.Lock()
	player.err = nil
	player.mu.Unlock()
	p.Toggle(context.Background(), "m1", "hello")
	p.Wait()
	require.True(t, p.IsPlaying("m1"))
	require.NoError(t, p.Err("m1"))
}

func TestExclusivePlayback(t *testing.T) {
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewPlayback(synth, player, quietLogger())

	p.Toggle(context.Background(), "a", "first")
	p.Wait()
	p.Toggle(context.Background(), "b", "second")
	p.Wait()

	require.False(t, p.IsPlaying("a"))
	require.True(t, p.IsPlaying("b"))
	require.Equal(t, 1, player.handle(0).stopCount())
	require.Zero(t, player.handle(1).stopCount())
}

func TestConcurrentPlayback(t *testing.T) {
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewPlayback(synth, player, quietLogger(), WithConcurrentPlayback())

	p.Toggle(context.Background(), "a", "first")
	p.Toggle(context.Background(), "b", "second")
	p.Wait()

	require.Equal(t, map[string]bool{"a": true, "b": true}, p.Playing())
}

func TestPlaybackNotifiesListeners(t *testing.T) {
	synth := &fakeSynth{}
	player := &fakePlayer{}
	p := NewPlayback(synth, player, quietLogger())

	var mu sync.Mutex
	var states []bool
	p.OnChange(func() {
		mu.Lock()
		states = append(states, p.IsPlaying("m1"))
		mu.Unlock()
	})

	p.Toggle(context.Background(), "m1", "hello")
	p.Wait()
	player.handle(0).onEnded()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, states)
}

func TestStopCancelsInFlightSynthesis(t *testing.T) {
	synth := &fakeSynth{gate: make(chan struct{})}
	player := &fakePlayer{}
	p := NewPlayback(synth, player, quietLogger())

	p.Toggle(context.Background(), "m1", "hello")
	require.Eventually(t, func() bool { return synth.calls() == 1 }, time.Second, 5*time.Millisecond)
	p.Toggle(context.Background(), "m1", "hello")

	// the gate is never opened; only cancellation lets synthesis return
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("synthesis kept running after stop")
	}

	require.False(t, p.IsPlaying("m1"))
	require.Zero(t, player.plays())
	require.NoError(t, p.Err("m1"))
}
