// Package session holds the client-side chat state: the conversation stream
// controller, per-message audio playback and the render-agnostic view derived
// from both.
package session

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/vultisig/chat-relay/internal/types"
)

// Status is the lifecycle state of a message.
type Status string

const (
	// StatusPending is part of the status vocabulary shared with other
	// clients. The controller never assigns it: assistant messages are
	// created streaming once the reply opens.
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

// Message is a single turn in the conversation.
type Message struct {
	ID          string
	Role        types.MessageRole
	Content     string
	CreatedAt   time.Time
	Attachments []types.Attachment
	Status      Status
}

// clone returns a copy that shares no mutable state with m.
func (m *Message) clone() Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]types.Attachment(nil), m.Attachments...)
	}
	return out
}

// File is a local file selected for attachment.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// DetectedContentType returns the declared content type, sniffing the data
// when none was declared.
func (f File) DetectedContentType() string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return http.DetectContentType(f.Data)
}

// IsImage reports whether the file is an image.
func (f File) IsImage() bool {
	return strings.HasPrefix(f.DetectedContentType(), "image/")
}

// DataURL encodes the file as a data: URL.
func (f File) DataURL() string {
	return "data:" + f.DetectedContentType() + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// Attachment converts the file to its wire representation.
func (f File) Attachment() types.Attachment {
	return types.Attachment{
		Name:        f.Name,
		ContentType: f.DetectedContentType(),
		URL:         f.DataURL(),
	}
}

// PendingAttachment is a file staged for the next submission.
type PendingAttachment struct {
	File File
	// PreviewURL is set for images only.
	PreviewURL string
}

func newPendingAttachment(f File) *PendingAttachment {
	p := &PendingAttachment{File: f}
	if f.IsImage() {
		p.PreviewURL = f.DataURL()
	}
	return p
}
