package housekeeping

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alekspetrov/scenarist/internal/config"
	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/store"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// CacheIndex is the subset of the cache store used by the cleaner.
type CacheIndex interface {
	BasePath() string
	ListOld(ctx context.Context, cutoff time.Time, withFiles bool, limit int) ([]*store.CacheEntry, error)
	Delete(ctx context.Context, hashKeys ...string) (int64, error)
}

// CacheReport summarizes one CacheCleaner run.
type CacheReport struct {
	RowsWithFiles    int64
	RowsWithoutFiles int64
	FilesRemoved     int
	Vacuums          int
	DryRun           bool
}

// CacheCleaner evicts old cache rows and their files.
type CacheCleaner struct {
	cfg   config.CacheCleanerConfig
	cache CacheIndex
	db    Vacuumer
	clock timeutil.Clock
	log   *slog.Logger
}

// NewCacheCleaner creates a CacheCleaner.
func NewCacheCleaner(cfg config.CacheCleanerConfig, cache CacheIndex, db Vacuumer, clock timeutil.Clock) *CacheCleaner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &CacheCleaner{
		cfg:   cfg,
		cache: cache,
		db:    db,
		clock: clock,
		log:   logging.WithComponent("cache-cleaner"),
	}
}

// Run evicts rows with files, then rows without. In dry-run mode it only logs
// what the first batch of each pass would remove.
func (c *CacheCleaner) Run(ctx context.Context) (CacheReport, error) {
	rep := CacheReport{DryRun: c.cfg.DryRun}
	now := c.clock.Now()
	sinceVacuum := int64(0)

	passes := []struct {
		withFiles bool
		hours     int
		count     *int64
	}{
		{true, c.cfg.OlderThanWithFileHours, &rep.RowsWithFiles},
		{false, c.cfg.OlderThanWithoutFileHours, &rep.RowsWithoutFiles},
	}
	for _, p := range passes {
		cutoff := now.Add(-time.Duration(p.hours) * time.Hour)
		for {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			entries, err := c.cache.ListOld(ctx, cutoff, p.withFiles, c.cfg.BatchSize)
			if err != nil {
				return rep, err
			}
			if len(entries) == 0 {
				break
			}

			if c.cfg.DryRun {
				for _, e := range entries {
					c.log.Info("Dry run: would evict cache entry",
						slog.String("hash_key", e.HashKey),
						slog.String("file", e.FilePath),
						slog.Time("created_at", e.CreatedAt),
					)
				}
				*p.count += int64(len(entries))
				break
			}

			keys := make([]string, 0, len(entries))
			for _, e := range entries {
				keys = append(keys, e.HashKey)
				if p.withFiles && c.removeFile(e) {
					rep.FilesRemoved++
				}
			}
			n, err := c.cache.Delete(ctx, keys...)
			if err != nil {
				return rep, err
			}
			*p.count += n
			sinceVacuum += n

			if c.cfg.ThresholdForVacuum > 0 && sinceVacuum >= int64(c.cfg.ThresholdForVacuum) && c.db != nil {
				if err := c.db.Vacuum(ctx); err != nil {
					return rep, err
				}
				rep.Vacuums++
				sinceVacuum = 0
			}
			if len(entries) < c.cfg.BatchSize {
				break
			}
		}
	}

	c.log.Info("File cache cleaned",
		slog.Int64("rows_with_files", rep.RowsWithFiles),
		slog.Int64("rows_without_files", rep.RowsWithoutFiles),
		slog.Int("files_removed", rep.FilesRemoved),
		slog.Int("vacuums", rep.Vacuums),
		slog.Bool("dry_run", rep.DryRun),
	)
	return rep, nil
}

// removeFile deletes the entry's file when it lies under the base path.
func (c *CacheCleaner) removeFile(e *store.CacheEntry) bool {
	if e.FilePath == "" {
		return false
	}
	rel, err := filepath.Rel(c.cache.BasePath(), e.FilePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		c.log.Warn("Cache file outside base path left in place", slog.String("file", e.FilePath))
		return false
	}
	if err := os.Remove(e.FilePath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("Failed to remove cache file", slog.String("file", e.FilePath), slog.Any("error", err))
		}
		return false
	}
	return true
}

// Job wraps the cleaner for the Scheduler.
func (c *CacheCleaner) Job() Job {
	return Job{Name: "cache-cleaner", Schedule: c.cfg.Schedule, Run: func(ctx context.Context) error {
		_, err := c.Run(ctx)
		return err
	}}
}
