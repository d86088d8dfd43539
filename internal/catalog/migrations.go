package catalog

import "database/sql"

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		// Logical activities, keyed by content-derived fingerprint
		`CREATE TABLE IF NOT EXISTS activity_records (
			fingerprint TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sport_type TEXT NOT NULL,
			start_time TEXT NOT NULL,
			distance REAL NOT NULL,
			duration INTEGER NOT NULL,
			elevation_gain REAL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activity_records_start ON activity_records(sport_type, start_time)`,

		// Per-platform identifiers for each logical activity
		`CREATE TABLE IF NOT EXISTS platform_mappings (
			fingerprint TEXT NOT NULL,
			platform TEXT NOT NULL,
			activity_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (fingerprint, platform),
			FOREIGN KEY (fingerprint) REFERENCES activity_records(fingerprint)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_platform_mappings_remote ON platform_mappings(platform, activity_id)`,

		// Per-direction sync outcomes
		`CREATE TABLE IF NOT EXISTS sync_status (
			fingerprint TEXT NOT NULL,
			source_platform TEXT NOT NULL,
			target_platform TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (fingerprint, source_platform, target_platform),
			FOREIGN KEY (fingerprint) REFERENCES activity_records(fingerprint)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sync_status_direction ON sync_status(source_platform, target_platform, status)`,

		// Content-addressed media files on disk
		`CREATE TABLE IF NOT EXISTS file_cache (
			fingerprint TEXT NOT NULL,
			file_format TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (fingerprint, file_format),
			FOREIGN KEY (fingerprint) REFERENCES activity_records(fingerprint)
		)`,

		// Key-value sync configuration (cursors, rules, tunables)
		`CREATE TABLE IF NOT EXISTS sync_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		// Rolling API budgets per platform
		`CREATE TABLE IF NOT EXISTS api_limits (
			platform TEXT PRIMARY KEY,
			daily_calls INTEGER NOT NULL DEFAULT 0,
			quarter_hour_calls INTEGER NOT NULL DEFAULT 0,
			daily_limit INTEGER NOT NULL,
			quarter_hour_limit INTEGER NOT NULL,
			day_reset_at TEXT NOT NULL,
			window_reset_at TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return seedDefaults(db)
}

// seedDefaults inserts the initial sync_config rows. INSERT OR IGNORE keeps
// operator-tuned values across restarts.
func seedDefaults(db *sql.DB) error {
	defaults := [][2]string{
		{"sync_rule_strava_to_garmin", "true"},
		{"sync_rule_garmin_to_strava", "true"},
		{"matcher_threshold_match", "0.80"},
		{"matcher_threshold_ambiguous", "0.60"},
		{"cache_ttl_days", "30"},
		{"max_retries", "3"},
		{"batch_size", "10"},
	}

	for _, kv := range defaults {
		_, err := db.Exec(
			`INSERT OR IGNORE INTO sync_config (key, value, updated_at) VALUES (?, ?, ?)`,
			kv[0], kv[1], nowRFC3339(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
