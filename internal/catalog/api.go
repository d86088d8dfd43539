package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetAPICounters returns a platform's budget row, or nil when the platform
// has never been initialized.
func (c *Catalog) GetAPICounters(ctx context.Context, platform string) (*Counters, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT platform, daily_calls, quarter_hour_calls, daily_limit, quarter_hour_limit, day_reset_at, window_reset_at
		FROM api_limits WHERE platform = ?`, platform)

	var ct Counters
	var dayReset, windowReset string
	err := row.Scan(&ct.Platform, &ct.DailyCalls, &ct.QuarterHourCalls,
		&ct.DailyLimit, &ct.QuarterHourLimit, &dayReset, &windowReset)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ct.DayResetAt = parseRFC3339(dayReset)
	ct.WindowResetAt = parseRFC3339(windowReset)
	return &ct, nil
}

// UpdateAPICounters applies fn to a platform's counters inside one
// transaction, creating the row from init when absent. The governor uses
// this for its reserve-and-debit step so concurrent directions can't
// double-spend budget.
func (c *Catalog) UpdateAPICounters(ctx context.Context, platform string, init Counters, fn func(*Counters) error) (*Counters, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning counters tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT platform, daily_calls, quarter_hour_calls, daily_limit, quarter_hour_limit, day_reset_at, window_reset_at
		FROM api_limits WHERE platform = ?`, platform)

	ct := init
	ct.Platform = platform
	var dayReset, windowReset string
	err = row.Scan(&ct.Platform, &ct.DailyCalls, &ct.QuarterHourCalls,
		&ct.DailyLimit, &ct.QuarterHourLimit, &dayReset, &windowReset)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// keep init values
	case err != nil:
		return nil, err
	default:
		ct.DayResetAt = parseRFC3339(dayReset)
		ct.WindowResetAt = parseRFC3339(windowReset)
	}

	if err := fn(&ct); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO api_limits (platform, daily_calls, quarter_hour_calls, daily_limit, quarter_hour_limit, day_reset_at, window_reset_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform) DO UPDATE SET
			daily_calls = excluded.daily_calls,
			quarter_hour_calls = excluded.quarter_hour_calls,
			daily_limit = excluded.daily_limit,
			quarter_hour_limit = excluded.quarter_hour_limit,
			day_reset_at = excluded.day_reset_at,
			window_reset_at = excluded.window_reset_at`,
		ct.Platform, ct.DailyCalls, ct.QuarterHourCalls, ct.DailyLimit, ct.QuarterHourLimit,
		ct.DayResetAt.UTC().Format(time.RFC3339), ct.WindowResetAt.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("writing counters for %s: %w", platform, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ct, nil
}
