package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vultisig/chat-relay/internal/session"
	"github.com/vultisig/chat-relay/internal/types"
)

func TestRenderEmptyShowsSuggestions(t *testing.T) {
	v := session.Derive(session.Snapshot{Status: session.Idle}, session.LocalState{}, time.Now(), time.UTC)

	out := render(v)
	require.Contains(t, out, session.StatusOnline)
	for _, s := range session.Suggestions {
		require.Contains(t, out, s)
	}
}

func TestRenderConversation(t *testing.T) {
	at := time.Date(2024, 3, 13, 22, 0, 0, 0, time.UTC)
	snap := session.Snapshot{
		Status: session.InFlight,
		Messages: []session.Message{
			{ID: "1", Role: types.RoleUser, Content: "Hi", CreatedAt: at, Status: session.StatusComplete,
				Attachments: []types.Attachment{{Name: "cat.png", ContentType: "image/png"}}},
			{ID: "2", Role: types.RoleAssistant, Content: "Hello", CreatedAt: at, Status: session.StatusStreaming},
		},
		Err: types.NewError(types.KindTransport, "connection reset", nil),
	}
	v := session.Derive(snap, session.LocalState{Theme: session.ThemeLight, Playing: map[string]bool{"2": true}}, at, time.UTC)

	out := render(v)
	require.Contains(t, out, session.StatusThinking)
	require.Contains(t, out, "Wednesday, Mar 13")
	require.Contains(t, out, "[1 22:00]")
	require.Contains(t, out, "[2 22:00]")
	require.Contains(t, out, "cat.png (image/png)")
	require.Contains(t, out, "typing")
	require.Contains(t, out, "playing")
	require.Contains(t, out, "connection reset")
	require.NotContains(t, out, "Try one of")
}

func TestAudioExtension(t *testing.T) {
	require.Equal(t, "mp3", audioExtension("audio/mpeg"))
	require.Equal(t, "wav", audioExtension("audio/wav; codecs=1"))
	require.Equal(t, "bin", audioExtension("application/octet-stream"))
}
