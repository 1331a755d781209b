package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/cache/redis"
	"github.com/vultisig/chat-relay/internal/types"
)

const speechKeyPrefix = "chat:tts:"

// SpeechProvider synthesizes speech.
type SpeechProvider interface {
	Synthesize(ctx context.Context, req types.SpeechRequest) (*types.Audio, error)
}

// SpeechCache is the subset of the Redis client used to cache audio.
type SpeechCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// SpeechService validates speech requests, applies defaults and caches
// synthesized audio.
type SpeechService struct {
	provider      SpeechProvider
	cache         SpeechCache
	cacheTTL      time.Duration
	defaultVoice  string
	defaultFormat string
	maxChars      int
	logger        *logrus.Logger
}

// NewSpeechService creates a SpeechService. A nil cache disables caching.
func NewSpeechService(provider SpeechProvider, cache SpeechCache, cacheTTL time.Duration, defaultVoice, defaultFormat string, maxChars int, logger *logrus.Logger) *SpeechService {
	return &SpeechService{
		provider:      provider,
		cache:         cache,
		cacheTTL:      cacheTTL,
		defaultVoice:  defaultVoice,
		defaultFormat: defaultFormat,
		maxChars:      maxChars,
		logger:        logger,
	}
}

// Synthesize returns audio for req, from cache when possible.
func (s *SpeechService) Synthesize(ctx context.Context, req types.SpeechRequest) (*types.Audio, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, types.NewError(types.KindValidation, "text is required", nil)
	}
	if s.maxChars > 0 && utf8.RuneCountInString(req.Text) > s.maxChars {
		return nil, types.NewError(types.KindValidation, fmt.Sprintf("text exceeds %d characters", s.maxChars), nil)
	}
	if req.VoiceID == "" {
		req.VoiceID = s.defaultVoice
	}
	if req.AudioFormat == "" {
		req.AudioFormat = s.defaultFormat
	}

	key := speechCacheKey(req)
	if audio, ok := s.cached(ctx, key); ok {
		return audio, nil
	}

	audio, err := s.provider.Synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}

	s.store(ctx, key, audio)
	return audio, nil
}

func (s *SpeechService) cached(ctx context.Context, key string) (*types.Audio, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.WithError(err).Warn("failed to read speech cache")
		}
		return nil, false
	}
	var audio types.Audio
	if err := json.Unmarshal([]byte(raw), &audio); err != nil {
		s.logger.WithError(err).Warn("discarding malformed speech cache entry")
		return nil, false
	}
	return &audio, true
}

func (s *SpeechService) store(ctx context.Context, key string, audio *types.Audio) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(audio)
	if err != nil {
		s.logger.WithError(err).Warn("failed to encode speech cache entry")
		return
	}
	if err := s.cache.Set(ctx, key, string(raw), s.cacheTTL); err != nil {
		s.logger.WithError(err).Warn("failed to write speech cache")
	}
}

func speechCacheKey(req types.SpeechRequest) string {
	sum := sha256.Sum256([]byte(req.VoiceID + "|" + req.AudioFormat + "|" + req.Text))
	return speechKeyPrefix + hex.EncodeToString(sum[:])
}
