package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UserState is the conversational state attached to a user.
type UserState struct {
	UserID    int64
	StateType string
	StateData map[string]any
	UpdatedAt time.Time
	ExpiredAt *time.Time
}

// UserStateStore persists user states with lazy expiry.
type UserStateStore struct {
	db *DB
}

// NewUserStateStore creates a UserStateStore.
func NewUserStateStore(db *DB) *UserStateStore {
	return &UserStateStore{db: db}
}

// Get returns the state of userID. An expired state is deleted and reported
// as ErrNotFound.
func (s *UserStateStore) Get(ctx context.Context, userID int64) (*UserState, error) {
	var (
		st                   UserState
		stateType, stateData sql.NullString
		updatedAt, expiredAt sql.NullString
	)
	err := s.db.db.QueryRowContext(ctx, `
		SELECT user_id, state_type, state_data, updated_at, expired_at FROM user_states WHERE user_id = ?
	`, userID).Scan(&st.UserID, &stateType, &stateData, &updatedAt, &expiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user state %d: %w", userID, err)
	}

	st.ExpiredAt = s.db.parseTimePtr(expiredAt)
	if st.ExpiredAt != nil && st.ExpiredAt.Before(s.db.clock.Now()) {
		if err := s.Clear(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	st.StateType = stateType.String
	st.UpdatedAt = s.db.parseTime(updatedAt)
	if stateData.Valid {
		if st.StateData, err = DecodeJSONMap(stateData.String); err != nil {
			return nil, fmt.Errorf("user state %d: %w", userID, err)
		}
	}
	return &st, nil
}

// Set upserts the state of userID.
func (s *UserStateStore) Set(ctx context.Context, userID int64, stateType string, data map[string]any, expiredAt time.Time) error {
	enc, err := EncodeJSON(data)
	if err != nil {
		return err
	}
	var exp any
	if !expiredAt.IsZero() {
		exp = s.db.formatTime(expiredAt)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO user_states (user_id, state_type, state_data, updated_at, expired_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state_type = excluded.state_type,
			state_data = excluded.state_data,
			updated_at = excluded.updated_at,
			expired_at = excluded.expired_at
	`, userID, stateType, enc, s.db.now(), exp)
	if err != nil {
		return fmt.Errorf("set user state %d: %w", userID, err)
	}
	return nil
}

// Clear removes the state of userID. Clearing an absent state is not an error.
func (s *UserStateStore) Clear(ctx context.Context, userID int64) error {
	if _, err := s.db.db.ExecContext(ctx, "DELETE FROM user_states WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("clear user state %d: %w", userID, err)
	}
	return nil
}

// PurgeExpired deletes every state that expired before now.
func (s *UserStateStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.db.ExecContext(ctx,
		"DELETE FROM user_states WHERE expired_at IS NOT NULL AND expired_at < ?", s.db.now())
	if err != nil {
		return 0, fmt.Errorf("purge user states: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
