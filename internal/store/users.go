package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is one row of the users table.
type User struct {
	UserID       int64
	Username     string
	FirstName    string
	LastName     string
	IsBot        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActivity *time.Time
}

// UserStore persists users seen in events.
type UserStore struct {
	db *DB
}

// NewUserStore creates a UserStore.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Upsert inserts or merges u. Stored non-empty names are protected: an empty
// incoming value never overwrites them. A zero lastActivity uses the clock.
func (s *UserStore) Upsert(ctx context.Context, u User, lastActivity time.Time) error {
	if u.UserID == 0 {
		return fmt.Errorf("user id is required")
	}
	if lastActivity.IsZero() {
		lastActivity = s.db.clock.Now()
	}
	now := s.db.now()
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, first_name, last_name, is_bot, created_at, updated_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = COALESCE(NULLIF(excluded.username, ''), users.username),
			first_name = COALESCE(NULLIF(excluded.first_name, ''), users.first_name),
			last_name = COALESCE(NULLIF(excluded.last_name, ''), users.last_name),
			is_bot = excluded.is_bot,
			updated_at = excluded.updated_at,
			last_activity = excluded.last_activity
	`, u.UserID, nullString(u.Username), nullString(u.FirstName), nullString(u.LastName), u.IsBot,
		now, now, s.db.formatTime(lastActivity))
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.UserID, err)
	}
	return nil
}

// Get returns the user with the given id.
func (s *UserStore) Get(ctx context.Context, userID int64) (*User, error) {
	var (
		u                                  User
		username, firstName, lastName      sql.NullString
		createdAt, updatedAt, lastActivity sql.NullString
	)
	err := s.db.db.QueryRowContext(ctx, `
		SELECT user_id, username, first_name, last_name, is_bot, created_at, updated_at, last_activity
		FROM users WHERE user_id = ?
	`, userID).Scan(&u.UserID, &username, &firstName, &lastName, &u.IsBot, &createdAt, &updatedAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.CreatedAt = s.db.parseTime(createdAt)
	u.UpdatedAt = s.db.parseTime(updatedAt)
	u.LastActivity = s.db.parseTimePtr(lastActivity)
	return &u, nil
}

// Count returns the number of known users.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
