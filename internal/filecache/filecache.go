// Package filecache keeps Telegram file ids of uploaded local files and
// stores downloaded files under the cache base path. Entries live in the
// cache table keyed by content hash.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alekspetrov/scenarist/internal/flat"
	"github.com/alekspetrov/scenarist/internal/store"
)

// Metadata keys.
const (
	MetaFileID       = "file_id"
	MetaType         = "type"
	MetaFileName     = "file_name"
	MetaSourceFileID = "source_file_id"
	MetaHash         = "hash"
)

const sourcePrefix = "src:"

// Downloader fetches Telegram files by id.
type Downloader interface {
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
}

// Cache maps local files to uploaded file ids and downloads files for
// reupload.
type Cache struct {
	store    *store.CacheStore
	filesDir string
}

// New creates a Cache. Relative attachment paths resolve against filesDir.
func New(cs *store.CacheStore, filesDir string) *Cache {
	return &Cache{store: cs, filesDir: filesDir}
}

// ResolvePath makes an attachment path absolute.
func (c *Cache) ResolvePath(path string) string {
	if filepath.IsAbs(path) || c.filesDir == "" {
		return path
	}
	return filepath.Join(c.filesDir, path)
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Lookup hashes the local file at path and returns the file id recorded for
// its content, if any. The hash is returned for a later Remember.
func (c *Cache) Lookup(ctx context.Context, path string) (fileID, hash string, err error) {
	hash, err = HashFile(c.ResolvePath(path))
	if err != nil {
		return "", "", err
	}
	entry, err := c.store.Get(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return "", hash, nil
	}
	if err != nil {
		return "", hash, err
	}
	return flat.Map(entry.Metadata).String(MetaFileID), hash, nil
}

// Remember records the file id Telegram returned for an upload of hash.
func (c *Cache) Remember(ctx context.Context, hash, fileID, attType string) error {
	if hash == "" || fileID == "" {
		return nil
	}
	return c.store.AddOrUpdate(ctx, hash, "", map[string]any{MetaFileID: fileID, MetaType: attType})
}

// Fetch downloads fileID into the cache base path and returns the absolute
// path of the stored file. Repeated fetches of the same id reuse the file.
func (c *Cache) Fetch(ctx context.Context, d Downloader, fileID, fileName string) (string, error) {
	if path, ok := c.fetched(ctx, fileID); ok {
		return path, nil
	}

	base := c.store.BasePath()
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(base, "download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	h := sha256.New()
	if err := d.DownloadFile(ctx, fileID, io.MultiWriter(tmp, h)); err != nil {
		cleanup()
		return "", fmt.Errorf("download %s: %w", fileID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close download: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	rel := filepath.Join(hash[:2], hash+filepath.Ext(fileName))
	dst := c.store.Resolve(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("store download: %w", err)
	}

	meta := map[string]any{MetaSourceFileID: fileID}
	if fileName != "" {
		meta[MetaFileName] = fileName
	}
	if err := c.store.AddOrUpdate(ctx, hash, dst, meta); err != nil {
		return "", err
	}
	if err := c.store.AddOrUpdate(ctx, sourcePrefix+fileID, "", map[string]any{MetaHash: hash}); err != nil {
		return "", err
	}
	return dst, nil
}

func (c *Cache) fetched(ctx context.Context, fileID string) (string, bool) {
	src, err := c.store.Get(ctx, sourcePrefix+fileID)
	if err != nil {
		return "", false
	}
	hash := flat.Map(src.Metadata).String(MetaHash)
	if hash == "" {
		return "", false
	}
	entry, err := c.store.Get(ctx, hash)
	if err != nil || entry.FilePath == "" {
		return "", false
	}
	if _, err := os.Stat(entry.FilePath); err != nil {
		return "", false
	}
	return entry.FilePath, true
}
