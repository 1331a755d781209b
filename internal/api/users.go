package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vultisig/chat-relay/internal/service"
)

// AuthenticateTerminalRequest is the request body for a terminal login.
type AuthenticateTerminalRequest struct {
	QueryString string `json:"queryString"`
}

// RefreshTokenRequest is the request body for rotating a token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthenticateTerminal handles POST /users/authenticateTerminal.
func (s *Server) AuthenticateTerminal(c echo.Context) error {
	var req AuthenticateTerminalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.QueryString) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "queryString is required"})
	}

	res, err := s.authService.LoginTerminal(c.Request().Context(), req.QueryString)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidLogin):
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid login"})
		case errors.Is(err, service.ErrUserDisabled):
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: "user disabled"})
		}
		s.logger.WithError(err).Error("failed to authenticate terminal")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to authenticate"})
	}

	return c.JSON(http.StatusOK, res)
}

// RefreshToken handles POST /users/refreshToken.
func (s *Server) RefreshToken(c echo.Context) error {
	var req RefreshTokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "refreshToken is required"})
	}

	pair, err := s.authService.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid refresh token"})
		case errors.Is(err, service.ErrUserDisabled):
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: "user disabled"})
		}
		s.logger.WithError(err).Error("failed to refresh token")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to refresh token"})
	}

	return c.JSON(http.StatusOK, pair)
}

// GetInfo handles GET /users/getInfo.
func (s *Server) GetInfo(c echo.Context) error {
	user, err := s.authService.CurrentUser(c.Request().Context(), GetUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken):
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		case errors.Is(err, service.ErrUserDisabled):
			return c.JSON(http.StatusForbidden, ErrorResponse{Error: "user disabled"})
		}
		s.logger.WithError(err).Error("failed to get user")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to get user"})
	}

	return c.JSON(http.StatusOK, user)
}
