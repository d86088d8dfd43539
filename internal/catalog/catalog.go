package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertActivity inserts or updates the record keyed by its fingerprint.
// created_at survives re-observation; everything else takes the latest
// metadata. Idempotent on identical input.
func (c *Catalog) UpsertActivity(ctx context.Context, rec ActivityRecord) error {
	return c.upsertActivity(ctx, c.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (c *Catalog) upsertActivity(ctx context.Context, db execer, rec ActivityRecord) error {
	now := nowRFC3339()
	_, err := db.ExecContext(ctx, `
		INSERT INTO activity_records
			(fingerprint, name, sport_type, start_time, distance, duration, elevation_gain, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			name = excluded.name,
			sport_type = excluded.sport_type,
			start_time = excluded.start_time,
			distance = excluded.distance,
			duration = excluded.duration,
			elevation_gain = excluded.elevation_gain,
			updated_at = excluded.updated_at`,
		rec.Fingerprint, rec.Name, rec.SportType,
		rec.StartTime.UTC().Format(time.RFC3339),
		rec.Distance, rec.Duration, toNullFloat64(rec.ElevationGain), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting activity %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// GetActivity retrieves a record by fingerprint.
func (c *Catalog) GetActivity(ctx context.Context, fingerprint string) (*ActivityRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT fingerprint, name, sport_type, start_time, distance, duration, elevation_gain, created_at, updated_at
		FROM activity_records WHERE fingerprint = ?`, fingerprint)
	return scanActivity(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (*ActivityRecord, error) {
	var rec ActivityRecord
	var start, created, updated string
	var elevation sql.NullFloat64
	err := row.Scan(&rec.Fingerprint, &rec.Name, &rec.SportType, &start,
		&rec.Distance, &rec.Duration, &elevation, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.StartTime = parseRFC3339(start)
	rec.CreatedAt = parseRFC3339(created)
	rec.UpdatedAt = parseRFC3339(updated)
	if elevation.Valid {
		rec.ElevationGain = &elevation.Float64
	}
	return &rec, nil
}

// ObserveActivity records a sighting of an activity on a platform: the
// record upsert and the mapping land in one transaction so a kill can never
// leave a mapping without its parent record.
func (c *Catalog) ObserveActivity(ctx context.Context, rec ActivityRecord, platform, activityID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning observe tx: %w", err)
	}
	defer tx.Rollback()

	if err := c.upsertActivity(ctx, tx, rec); err != nil {
		return err
	}
	if err := recordMapping(ctx, tx, rec.Fingerprint, platform, activityID); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordMapping associates a platform's activity id with a fingerprint.
// Unique per (fingerprint, platform); re-observation overwrites the id.
func (c *Catalog) RecordMapping(ctx context.Context, fingerprint, platform, activityID string) error {
	return recordMapping(ctx, c.db, fingerprint, platform, activityID)
}

func recordMapping(ctx context.Context, db execer, fingerprint, platform, activityID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO platform_mappings (fingerprint, platform, activity_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint, platform) DO UPDATE SET activity_id = excluded.activity_id`,
		fingerprint, platform, activityID, nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("recording mapping (%s, %s): %w", fingerprint, platform, err)
	}
	return nil
}

// GetMapping returns the platform's activity id for a fingerprint.
func (c *Catalog) GetMapping(ctx context.Context, fingerprint, platform string) (string, error) {
	var id string
	err := c.db.QueryRowContext(ctx,
		`SELECT activity_id FROM platform_mappings WHERE fingerprint = ? AND platform = ?`,
		fingerprint, platform).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMappingNotFound
	}
	return id, err
}

// GetMappingByPlatformID is the reverse lookup: which fingerprint does a
// platform-local id belong to?
func (c *Catalog) GetMappingByPlatformID(ctx context.Context, platform, activityID string) (string, error) {
	var fp string
	err := c.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM platform_mappings WHERE platform = ? AND activity_id = ?`,
		platform, activityID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrMappingNotFound
	}
	return fp, err
}

// ListMappings returns every platform's id for a fingerprint.
func (c *Catalog) ListMappings(ctx context.Context, fingerprint string) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT platform, activity_id FROM platform_mappings WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := make(map[string]string)
	for rows.Next() {
		var platform, id string
		if err := rows.Scan(&platform, &id); err != nil {
			return nil, err
		}
		mappings[platform] = id
	}
	return mappings, rows.Err()
}

// SetStatus upserts a direction's status for an activity. Once a row is
// synced or duplicate it never changes again here; ClearStatus is the only
// way back. Re-marking the same terminal status is a no-op, which makes
// retries idempotent.
func (c *Catalog) SetStatus(ctx context.Context, fingerprint, source, target string, status Status, reason string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sync_status (fingerprint, source_platform, target_platform, status, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint, source_platform, target_platform) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			updated_at = excluded.updated_at
		WHERE sync_status.status NOT IN ('synced', 'duplicate')`,
		fingerprint, source, target, string(status), reason, nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("setting status (%s, %s->%s): %w", fingerprint, source, target, err)
	}
	return nil
}

// ClearStatus is the administrative reset: it removes the row entirely so
// the next run reconsiders the activity from scratch.
func (c *Catalog) ClearStatus(ctx context.Context, fingerprint, source, target string) error {
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM sync_status WHERE fingerprint = ? AND source_platform = ? AND target_platform = ?`,
		fingerprint, source, target)
	return err
}

// GetStatus returns the status row for (fingerprint, source, target), or
// nil when the activity has never been scheduled for the direction.
func (c *Catalog) GetStatus(ctx context.Context, fingerprint, source, target string) (*StatusRow, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT fingerprint, source_platform, target_platform, status, reason, attempts, updated_at
		FROM sync_status
		WHERE fingerprint = ? AND source_platform = ? AND target_platform = ?`,
		fingerprint, source, target)

	var sr StatusRow
	var status, updated string
	err := row.Scan(&sr.Fingerprint, &sr.SourcePlatform, &sr.TargetPlatform,
		&status, &sr.Reason, &sr.Attempts, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sr.Status = Status(status)
	sr.UpdatedAt = parseRFC3339(updated)
	return &sr, nil
}

// BumpAttempts increments the retry counter for a pending row and returns
// the new count.
func (c *Catalog) BumpAttempts(ctx context.Context, fingerprint, source, target string) (int, error) {
	_, err := c.db.ExecContext(ctx, `
		UPDATE sync_status SET attempts = attempts + 1, updated_at = ?
		WHERE fingerprint = ? AND source_platform = ? AND target_platform = ?`,
		nowRFC3339(), fingerprint, source, target)
	if err != nil {
		return 0, err
	}
	var attempts int
	err = c.db.QueryRowContext(ctx, `
		SELECT attempts FROM sync_status
		WHERE fingerprint = ? AND source_platform = ? AND target_platform = ?`,
		fingerprint, source, target).Scan(&attempts)
	return attempts, err
}

// ListPending returns fingerprints whose status for the direction is
// pending, oldest activities first.
func (c *Catalog) ListPending(ctx context.Context, source, target string, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT s.fingerprint
		FROM sync_status s
		JOIN activity_records a ON a.fingerprint = s.fingerprint
		WHERE s.source_platform = ? AND s.target_platform = ? AND s.status = 'pending'
		ORDER BY a.start_time ASC
		LIMIT ?`, source, target, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// CountStatuses tallies a direction's rows by status.
func (c *Catalog) CountStatuses(ctx context.Context, source, target string) (map[Status]int, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_status
		WHERE source_platform = ? AND target_platform = ?
		GROUP BY status`, source, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// FindSimilar returns records of the given canonical sport starting inside
// [from, to], the matcher's candidate pool for duplicate resolution.
func (c *Catalog) FindSimilar(ctx context.Context, sportType string, from, to time.Time) ([]ActivityRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT fingerprint, name, sport_type, start_time, distance, duration, elevation_gain, created_at, updated_at
		FROM activity_records
		WHERE sport_type = ? AND start_time BETWEEN ? AND ?
		ORDER BY start_time ASC`,
		sportType, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
