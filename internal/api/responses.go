package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/vultisig/chat-relay/internal/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps a classified provider failure to an HTTP status.
func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindUpstream, types.KindAuth:
		return http.StatusBadGateway
	case types.KindTransport:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
