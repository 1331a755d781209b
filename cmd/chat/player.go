package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/session"
	"github.com/vultisig/chat-relay/internal/types"
)

var audioExtensions = map[string]string{
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/wav":    "wav",
	"audio/x-wav":  "wav",
	"audio/ogg":    "ogg",
	"audio/opus":   "opus",
	"audio/aac":    "aac",
	"audio/flac":   "flac",
	"audio/pcm":    "pcm",
	"audio/webm":   "webm",
	"audio/mp4":    "m4a",
	"audio/x-flac": "flac",
}

func audioExtension(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	if ext, ok := audioExtensions[strings.ToLower(strings.TrimSpace(mediaType))]; ok {
		return ext
	}
	return "bin"
}

// filePlayer writes synthesized audio to dir and, when command is set, plays
// it with that external program. Without a command playback ends as soon as
// the file is written.
type filePlayer struct {
	dir     string
	command string
	onSaved func(path string)
	logger  logrus.FieldLogger
}

func newFilePlayer(dir, command string, onSaved func(path string), logger logrus.FieldLogger) *filePlayer {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "chat-relay-audio")
	}
	return &filePlayer{dir: dir, command: command, onSaved: onSaved, logger: logger}
}

func (p *filePlayer) Play(audio *types.Audio, onEnded func()) (session.AudioHandle, error) {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	path := filepath.Join(p.dir, "speech-"+uuid.NewString()[:8]+"."+audioExtension(audio.ContentType))
	if err := os.WriteFile(path, audio.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if p.onSaved != nil {
		p.onSaved(path)
	}

	if p.command == "" {
		onEnded()
		return stopFunc(func() {}), nil
	}

	args := strings.Fields(p.command)
	cmd := exec.Command(args[0], append(args[1:], path)...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.WithError(err).Debug("audio player exited")
		}
		onEnded()
	}()

	var once sync.Once
	return stopFunc(func() {
		once.Do(func() {
			if err := cmd.Process.Kill(); err != nil {
				p.logger.WithError(err).Debug("failed to stop audio player")
			}
		})
	}), nil
}

type stopFunc func()

func (f stopFunc) Stop() { f() }
