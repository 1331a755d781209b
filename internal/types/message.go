package types

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the role of a message sender.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is a role accepted on the wire.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Attachment is a file carried alongside a user message.
// URL is usually a data: URL holding the file contents.
type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// ChatMessage is a single turn as sent to the relay and the completion provider.
type ChatMessage struct {
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"experimental_attachments,omitempty"`
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// SpeechRequest is the request body for POST /api/tts.
type SpeechRequest struct {
	Text        string `json:"text"`
	VoiceID     string `json:"voice_id,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
}

// Audio is synthesized speech.
type Audio struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// User represents an account authenticated through a terminal login.
type User struct {
	ID          uuid.UUID  `json:"id"`
	ExternalID  string     `json:"external_id"`
	DisplayName *string    `json:"display_name,omitempty"`
	DisabledAt  *time.Time `json:"disabled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt time.Time  `json:"last_login_at"`
}

// TokenPair is an access/refresh token pair. Field names follow the
// auth API wire format.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TextStream is an incrementally delivered completion. Recv returns the next
// text fragment, or io.EOF once the stream ended normally.
type TextStream interface {
	Recv() (string, error)
	Close() error
}
