package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/chat-relay/internal/types"
)

// TextToSpeech handles POST /api/tts and responds with raw audio bytes.
func (s *Server) TextToSpeech(c echo.Context) error {
	var req types.SpeechRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	audio, err := s.speechService.Synthesize(c.Request().Context(), req)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusBadRequest {
			return c.JSON(status, ErrorResponse{Error: err.Error()})
		}
		s.logger.WithError(err).WithField("user_id", GetUserID(c)).Error("failed to synthesize speech")
		return c.JSON(status, ErrorResponse{Error: "failed to synthesize speech"})
	}

	return c.Blob(http.StatusOK, audio.ContentType, audio.Data)
}
