package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/chat-relay/internal/cache/redis"
	"github.com/vultisig/chat-relay/internal/storage/postgres"
	"github.com/vultisig/chat-relay/internal/types"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const refreshKeyPrefix = "chat:refresh:"

var (
	// ErrInvalidToken is returned for malformed, expired, revoked or reused tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUserDisabled is returned when a disabled account authenticates.
	ErrUserDisabled = errors.New("user disabled")
)

// Claims represents the JWT claims structure. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	TokenID   string `json:"token_id"`
	TokenType string `json:"token_type"`
}

// KeyValueStore is the subset of the Redis client used by the services.
// Missing keys are reported as redis.ErrCacheMiss.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// UserStore persists accounts.
type UserStore interface {
	UpsertByExternalID(ctx context.Context, externalID string, displayName *string) (*types.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.User, error)
}

// LoginResult is returned by a successful terminal login.
type LoginResult struct {
	types.TokenPair
	User *types.User `json:"user"`
}

// AuthService issues, validates and rotates JWT token pairs.
type AuthService struct {
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	store      KeyValueStore
	users      UserStore
	terminal   *TerminalVerifier
	logger     *logrus.Logger
	now        func() time.Time
}

// NewAuthService creates a new AuthService with the given JWT secret.
func NewAuthService(secret string, accessTTL, refreshTTL time.Duration, store KeyValueStore, users UserStore, terminal *TerminalVerifier, logger *logrus.Logger) *AuthService {
	return &AuthService{
		jwtSecret:  []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		users:      users,
		terminal:   terminal,
		logger:     logger,
		now:        time.Now,
	}
}

// ValidateToken validates an access token and returns the claims.
func (a *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	return a.parse(tokenStr, TokenTypeAccess)
}

func (a *AuthService) parse(tokenStr, tokenType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid or expired token", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token missing subject", ErrInvalidToken)
	}
	if claims.TokenID == "" {
		return nil, fmt.Errorf("%w: token missing token ID", ErrInvalidToken)
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: %s token required", ErrInvalidToken, tokenType)
	}
	return claims, nil
}

// IssueTokens creates a new access/refresh pair for userID and records the
// refresh token so it can be redeemed exactly once.
func (a *AuthService) IssueTokens(ctx context.Context, userID uuid.UUID) (*types.TokenPair, error) {
	access, _, err := a.sign(userID, TokenTypeAccess, a.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshID, err := a.sign(userID, TokenTypeRefresh, a.refreshTTL)
	if err != nil {
		return nil, err
	}
	if err := a.store.Set(ctx, refreshKeyPrefix+refreshID, userID.String(), a.refreshTTL); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &types.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (a *AuthService) sign(userID uuid.UUID, tokenType string, ttl time.Duration) (string, string, error) {
	now := a.now()
	tokenID := uuid.NewString()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenID:   tokenID,
		TokenType: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, tokenID, nil
}

// Refresh redeems a refresh token for a new pair. The old refresh token is
// consumed; presenting it again fails with ErrInvalidToken.
func (a *AuthService) Refresh(ctx context.Context, refreshToken string) (*types.TokenPair, error) {
	claims, err := a.parse(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	stored, err := a.store.GetDel(ctx, refreshKeyPrefix+claims.TokenID)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			a.logger.WithField("user_id", claims.Subject).Warn("refresh token reused or revoked")
			return nil, fmt.Errorf("%w: refresh token not recognized", ErrInvalidToken)
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if stored != claims.Subject {
		return nil, fmt.Errorf("%w: refresh token subject mismatch", ErrInvalidToken)
	}

	user, err := a.CurrentUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	return a.IssueTokens(ctx, user.ID)
}

// LoginTerminal verifies a signed terminal query string, records the user and
// issues a token pair.
func (a *AuthService) LoginTerminal(ctx context.Context, queryString string) (*LoginResult, error) {
	identity, err := a.terminal.Verify(queryString)
	if err != nil {
		return nil, err
	}

	user, err := a.users.UpsertByExternalID(ctx, identity.ExternalID, identity.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	if user.DisabledAt != nil {
		return nil, ErrUserDisabled
	}

	tokens, err := a.IssueTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"user_id":     user.ID,
		"external_id": user.ExternalID,
	}).Info("terminal login")
	return &LoginResult{TokenPair: *tokens, User: user}, nil
}

// CurrentUser loads the active user for a token subject.
func (a *AuthService) CurrentUser(ctx context.Context, subject string) (*types.User, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	user, err := a.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrInvalidToken)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.DisabledAt != nil {
		return nil, ErrUserDisabled
	}
	return user, nil
}
