package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// CacheEntry is one row of the file cache table.
type CacheEntry struct {
	ID        int64
	HashKey   string
	Metadata  map[string]any
	FilePath  string // absolute, resolved against the base path
	CreatedAt time.Time
}

// CacheStore persists content-addressed cache rows. File paths are stored
// relative to basePath.
type CacheStore struct {
	db       *DB
	basePath string
}

// NewCacheStore creates a CacheStore rooted at basePath.
func NewCacheStore(db *DB, basePath string) *CacheStore {
	if abs, err := filepath.Abs(basePath); err == nil {
		basePath = abs
	}
	return &CacheStore{db: db, basePath: basePath}
}

// BasePath returns the absolute cache root.
func (s *CacheStore) BasePath() string { return s.basePath }

// Resolve turns a stored relative path into an absolute one.
func (s *CacheStore) Resolve(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.basePath, rel)
}

func (s *CacheStore) relative(path string) string {
	if path == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// AddOrUpdate stores metadata and an optional file path under hashKey. An
// update merges meta into the stored metadata and keeps the stored path when
// filePath is empty.
func (s *CacheStore) AddOrUpdate(ctx context.Context, hashKey, filePath string, meta map[string]any) error {
	if hashKey == "" {
		return fmt.Errorf("cache hash key is required")
	}
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		merged := map[string]any{}
		var storedMeta sql.NullString
		err := tx.QueryRowContext(ctx, "SELECT hash_metadata FROM cache WHERE hash_key = ?", hashKey).Scan(&storedMeta)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read cache %s: %w", hashKey, err)
		case storedMeta.Valid:
			old, err := DecodeJSONMap(storedMeta.String)
			if err != nil {
				return err
			}
			for k, v := range old {
				merged[k] = v
			}
		}
		for k, v := range meta {
			merged[k] = v
		}
		var enc any
		if len(merged) > 0 {
			if enc, err = EncodeJSON(merged); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cache (hash_key, hash_metadata, hash_file_path, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(hash_key) DO UPDATE SET
				hash_metadata = excluded.hash_metadata,
				hash_file_path = COALESCE(excluded.hash_file_path, cache.hash_file_path)
		`, hashKey, enc, nullString(s.relative(filePath)), s.db.now())
		if err != nil {
			return fmt.Errorf("write cache %s: %w", hashKey, err)
		}
		return nil
	})
}

// Get returns the entry stored under hashKey.
func (s *CacheStore) Get(ctx context.Context, hashKey string) (*CacheEntry, error) {
	row := s.db.db.QueryRowContext(ctx,
		"SELECT id, hash_key, hash_metadata, hash_file_path, created_at FROM cache WHERE hash_key = ?", hashKey)
	e, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Has reports whether hashKey is cached.
func (s *CacheStore) Has(ctx context.Context, hashKey string) (bool, error) {
	var n int
	if err := s.db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache WHERE hash_key = ?", hashKey).Scan(&n); err != nil {
		return false, fmt.Errorf("check cache %s: %w", hashKey, err)
	}
	return n > 0, nil
}

// Delete removes the rows with the given keys and returns how many went.
func (s *CacheStore) Delete(ctx context.Context, hashKeys ...string) (int64, error) {
	if len(hashKeys) == 0 {
		return 0, nil
	}
	args := make([]any, len(hashKeys))
	for i, k := range hashKeys {
		args[i] = k
	}
	res, err := s.db.db.ExecContext(ctx, "DELETE FROM cache WHERE hash_key IN ("+placeholders(len(hashKeys))+")", args...)
	if err != nil {
		return 0, fmt.Errorf("delete cache rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListOld returns up to limit entries created before cutoff, either those with
// a file path (withFiles) or those without.
func (s *CacheStore) ListOld(ctx context.Context, cutoff time.Time, withFiles bool, limit int) ([]*CacheEntry, error) {
	cond := "(hash_file_path IS NULL OR hash_file_path = '')"
	if withFiles {
		cond = "(hash_file_path IS NOT NULL AND hash_file_path != '')"
	}
	query := "SELECT id, hash_key, hash_metadata, hash_file_path, created_at FROM cache WHERE created_at < ? AND " +
		cond + " ORDER BY created_at ASC, id ASC"
	args := []any{s.db.formatTime(cutoff)}
	query, args = withLimit(query, args, limit)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list old cache rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*CacheEntry
	for rows.Next() {
		e, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *CacheStore) scan(row scanner) (*CacheEntry, error) {
	var (
		e                   CacheEntry
		meta, path, created sql.NullString
	)
	if err := row.Scan(&e.ID, &e.HashKey, &meta, &path, &created); err != nil {
		return nil, err
	}
	if meta.Valid {
		m, err := DecodeJSONMap(meta.String)
		if err != nil {
			return nil, fmt.Errorf("cache %s: %w", e.HashKey, err)
		}
		e.Metadata = m
	}
	e.FilePath = s.Resolve(path.String)
	e.CreatedAt = s.db.parseTime(created)
	return &e, nil
}
