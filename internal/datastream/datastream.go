// Package datastream implements the line-framed streaming format spoken between
// the relay and its clients.
//
// Every part is a single line "<code>:<json>\n". Text deltas use code 0 and a
// JSON string, errors use code 3 and a JSON string, and the finish part uses
// code d and a JSON object. Readers skip codes they do not know.
package datastream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Part codes.
const (
	PartText   byte = '0'
	PartError  byte = '3'
	PartFinish byte = 'd'
)

// HeaderName/HeaderValue mark a response body as a data stream.
const (
	HeaderName  = "X-Vercel-AI-Data-Stream"
	HeaderValue = "v1"
	ContentType = "text/plain; charset=utf-8"
)

// MaxLineSize bounds a single framed part.
const MaxLineSize = 1 << 20

// ErrLineTooLong is returned when a part exceeds MaxLineSize.
var ErrLineTooLong = errors.New("datastream: line too long")

// Finish carries the end-of-stream metadata.
type Finish struct {
	FinishReason string `json:"finishReason"`
	Usage        *Usage `json:"usage,omitempty"`
}

// Usage holds token counts reported by the provider.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Part is one decoded line.
type Part struct {
	Code   byte
	Text   string
	Finish *Finish
}

// Writer encodes parts onto an HTTP response (or any writer), flushing after
// each part when the underlying writer supports it.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	written bool
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Written reports whether any part has been written.
func (w *Writer) Written() bool {
	return w.written
}

// Text writes a text delta. Empty deltas are dropped.
func (w *Writer) Text(s string) error {
	if s == "" {
		return nil
	}
	return w.writePart(PartText, s)
}

// Error writes an error part.
func (w *Writer) Error(msg string) error {
	return w.writePart(PartError, msg)
}

// Finish writes the finish part.
func (w *Writer) Finish(f Finish) error {
	return w.writePart(PartFinish, f)
}

func (w *Writer) writePart(code byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal part: %w", err)
	}
	line := make([]byte, 0, len(payload)+3)
	line = append(line, code, ':')
	line = append(line, payload...)
	line = append(line, '\n')
	if _, err := w.w.Write(line); err != nil {
		return fmt.Errorf("write part: %w", err)
	}
	w.written = true
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Reader decodes parts from a stream. Parts may arrive split across any
// number of reads.
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next known part. It returns io.EOF when the input ends on
// a part boundary and io.ErrUnexpectedEOF when it ends mid-line.
func (r *Reader) Next() (Part, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Part{}, err
		}
		if len(line) == 0 {
			continue
		}
		if len(line) < 2 || line[1] != ':' {
			return Part{}, fmt.Errorf("datastream: malformed line %q", truncate(line))
		}

		code, payload := line[0], line[2:]
		switch code {
		case PartText, PartError:
			var s string
			if err := json.Unmarshal(payload, &s); err != nil {
				return Part{}, fmt.Errorf("datastream: decode part %c: %w", code, err)
			}
			return Part{Code: code, Text: s}, nil
		case PartFinish:
			var f Finish
			if err := json.Unmarshal(payload, &f); err != nil {
				return Part{}, fmt.Errorf("datastream: decode finish: %w", err)
			}
			return Part{Code: code, Finish: &f}, nil
		default:
			// Unknown part, e.g. tool calls or annotations.
			continue
		}
	}
}

func (r *Reader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		switch {
		case err == nil:
			return bytes.TrimRight(buf, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF:
			if len(buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

func truncate(b []byte) string {
	if len(b) > 64 {
		return string(b[:64]) + "..."
	}
	return string(b)
}
