package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vultisig/chat-relay/internal/types"
)

// ErrNotFound is returned when a resource is not found.
var ErrNotFound = errors.New("not found")

const userColumns = `id, external_id, display_name, disabled_at, created_at, updated_at, last_login_at`

// UserRepository handles database operations for users.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// UpsertByExternalID creates the user on first login and otherwise refreshes
// its display name and last login time. A nil displayName keeps the stored one.
func (r *UserRepository) UpsertByExternalID(ctx context.Context, externalID string, displayName *string) (*types.User, error) {
	var row userRow
	err := r.pool.QueryRow(ctx, `
		INSERT INTO chat_users (external_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE
		SET display_name = COALESCE(EXCLUDED.display_name, chat_users.display_name),
		    last_login_at = NOW(),
		    updated_at = NOW()
		RETURNING `+userColumns,
		externalID, stringPtrToPgtext(displayName),
	).Scan(row.scanTargets()...)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return userFromDB(&row), nil
}

// GetByID returns a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	var row userRow
	err := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM chat_users WHERE id = $1`,
		uuidToPgtype(id),
	).Scan(row.scanTargets()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return userFromDB(&row), nil
}
