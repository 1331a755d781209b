package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/chat-relay/internal/datastream"
	"github.com/vultisig/chat-relay/internal/service"
	"github.com/vultisig/chat-relay/internal/types"
)

// Chat handles POST /api/chat. The reply is streamed in the data-stream format.
func (s *Server) Chat(c echo.Context) error {
	// 1. Bind request body
	var req types.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	// 2. Validate the history before contacting the provider
	if err := s.relayService.Validate(req.Messages); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}

	relayReq := service.RelayRequest{
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
		UserID:    GetUserID(c),
		Messages:  req.Messages,
		Started:   time.Now(),
	}

	// 3. Bound the whole exchange
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.maxDuration)
	defer cancel()

	// 4. Open the provider stream; failures here still get a JSON body
	stream, err := s.relayService.Open(ctx, relayReq)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", relayReq.RequestID).Error("failed to open completion")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: service.StreamErrorMessage})
	}

	// 5. Stream the reply
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, datastream.ContentType)
	res.Header().Set(datastream.HeaderName, datastream.HeaderValue)
	res.Header().Set("Cache-Control", "no-cache")
	res.WriteHeader(http.StatusOK)

	// status is already committed; failures are reported in-band and logged by Pipe
	_ = s.relayService.Pipe(ctx, stream, datastream.NewWriter(res), relayReq)
	return nil
}
