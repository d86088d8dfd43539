package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GetConfig retrieves a sync_config value; empty string when the key is
// absent.
func (c *Catalog) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := c.db.QueryRowContext(ctx, `SELECT value FROM sync_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a sync_config value.
func (c *Catalog) SetConfig(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sync_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowRFC3339())
	if err != nil {
		return fmt.Errorf("setting config %s: %w", key, err)
	}
	return nil
}

// ConfigFloat reads a numeric tunable, falling back when unset or garbled.
func (c *Catalog) ConfigFloat(ctx context.Context, key string, fallback float64) float64 {
	raw, err := c.GetConfig(ctx, key)
	if err != nil || raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// ConfigInt reads an integer tunable, falling back when unset or garbled.
func (c *Catalog) ConfigInt(ctx context.Context, key string, fallback int) int {
	raw, err := c.GetConfig(ctx, key)
	if err != nil || raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// Cursor returns the last fully-enumerated start_time for a source
// platform; ok is false on first sync.
func (c *Catalog) Cursor(ctx context.Context, platform string) (time.Time, bool, error) {
	raw, err := c.GetConfig(ctx, "last_sync_"+platform)
	if err != nil || raw == "" {
		return time.Time{}, false, err
	}
	t, perr := time.Parse(time.RFC3339, raw)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetCursor advances a source platform's cursor.
func (c *Catalog) SetCursor(ctx context.Context, platform string, t time.Time) error {
	return c.SetConfig(ctx, "last_sync_"+platform, t.UTC().Format(time.RFC3339))
}

// DirectionEnabled checks the sync_rule_<src>_to_<dst> row. Directions with
// no rule row default to enabled; an explicit "false" disables.
func (c *Catalog) DirectionEnabled(ctx context.Context, source, target string) (bool, error) {
	raw, err := c.GetConfig(ctx, fmt.Sprintf("sync_rule_%s_to_%s", source, target))
	if err != nil {
		return false, err
	}
	return raw != "false", nil
}

// SetDirectionEnabled flips a direction's rule row.
func (c *Catalog) SetDirectionEnabled(ctx context.Context, source, target string, enabled bool) error {
	return c.SetConfig(ctx, fmt.Sprintf("sync_rule_%s_to_%s", source, target), strconv.FormatBool(enabled))
}
