package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordCache registers a media file for (fingerprint, format), replacing
// any previous entry for the pair.
func (c *Catalog) RecordCache(ctx context.Context, fingerprint, format, path string, size int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO file_cache (fingerprint, file_format, file_path, file_size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint, file_format) DO UPDATE SET
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			created_at = excluded.created_at`,
		fingerprint, format, path, size, nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("recording cache entry (%s, %s): %w", fingerprint, format, err)
	}
	return nil
}

// GetCache returns the cache entry for (fingerprint, format).
func (c *Catalog) GetCache(ctx context.Context, fingerprint, format string) (*CacheEntry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT fingerprint, file_format, file_path, file_size, created_at
		FROM file_cache WHERE fingerprint = ? AND file_format = ?`,
		fingerprint, format)
	return scanCacheEntry(row)
}

// ListCacheForFingerprint returns every cached format for a fingerprint.
func (c *Catalog) ListCacheForFingerprint(ctx context.Context, fingerprint string) ([]CacheEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT fingerprint, file_format, file_path, file_size, created_at
		FROM file_cache WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCacheEntries(rows)
}

// ListCache returns all cache rows.
func (c *Catalog) ListCache(ctx context.Context) ([]CacheEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT fingerprint, file_format, file_path, file_size, created_at FROM file_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCacheEntries(rows)
}

// PurgeCache deletes rows created before the cutoff and returns them so the
// file layer can unlink the files.
func (c *Catalog) PurgeCache(ctx context.Context, olderThan time.Time) ([]CacheEntry, error) {
	cutoff := olderThan.UTC().Format(time.RFC3339)

	rows, err := c.db.QueryContext(ctx, `
		SELECT fingerprint, file_format, file_path, file_size, created_at
		FROM file_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	expired, err := collectCacheEntries(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM file_cache WHERE created_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("purging cache: %w", err)
	}
	return expired, nil
}

// DeleteCache removes a single cache row (e.g. when its file went missing).
func (c *Catalog) DeleteCache(ctx context.Context, fingerprint, format string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM file_cache WHERE fingerprint = ? AND file_format = ?`,
		fingerprint, format)
	return err
}

func scanCacheEntry(row rowScanner) (*CacheEntry, error) {
	var e CacheEntry
	var created string
	err := row.Scan(&e.Fingerprint, &e.Format, &e.Path, &e.Size, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	e.CreatedAt = parseRFC3339(created)
	return &e, nil
}

func collectCacheEntries(rows *sql.Rows) ([]CacheEntry, error) {
	var entries []CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
