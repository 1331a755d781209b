package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/vultisig/chat-relay/internal/types"
)

// UUID conversions

func uuidToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{
		Bytes: id,
		Valid: true,
	}
}

func pgtypeToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}

// Text conversions

func stringPtrToPgtext(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func pgtextToStringPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

// Timestamptz conversions

func pgtimestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func pgtimestamptzToTimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// Model conversions

// userRow mirrors the chat_users table.
type userRow struct {
	ID          pgtype.UUID
	ExternalID  string
	DisplayName pgtype.Text
	DisabledAt  pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
	LastLoginAt pgtype.Timestamptz
}

func (r *userRow) scanTargets() []any {
	return []any{&r.ID, &r.ExternalID, &r.DisplayName, &r.DisabledAt, &r.CreatedAt, &r.UpdatedAt, &r.LastLoginAt}
}

func userFromDB(r *userRow) *types.User {
	if r == nil {
		return nil
	}
	return &types.User{
		ID:          pgtypeToUUID(r.ID),
		ExternalID:  r.ExternalID,
		DisplayName: pgtextToStringPtr(r.DisplayName),
		DisabledAt:  pgtimestamptzToTimePtr(r.DisabledAt),
		CreatedAt:   pgtimestamptzToTime(r.CreatedAt),
		UpdatedAt:   pgtimestamptzToTime(r.UpdatedAt),
		LastLoginAt: pgtimestamptzToTime(r.LastLoginAt),
	}
}
