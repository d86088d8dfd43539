package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// legacyState is the shape of the JSON state file earlier releases kept
// before the catalog moved to sqlite.
type legacyState struct {
	SyncRecords map[string]legacyRecord `json:"sync_records"`
	SyncConfig  legacyConfig            `json:"sync_config"`
}

type legacyRecord struct {
	Metadata   legacyMetadata    `json:"metadata"`
	Platforms  map[string]string `json:"platforms"`
	Files      map[string]string `json:"files"`
	SyncStatus map[string]string `json:"sync_status"`
	CreatedAt  string            `json:"created_at"`
}

type legacyMetadata struct {
	Name          string   `json:"name"`
	SportType     string   `json:"sport_type"`
	StartTime     string   `json:"start_time"`
	Distance      float64  `json:"distance"`
	Duration      int      `json:"duration"`
	ElevationGain *float64 `json:"elevation_gain"`
}

type legacyConfig struct {
	LastSync  map[string]string `json:"last_sync"`
	SyncRules map[string]bool   `json:"sync_rules"`
}

// MigrateLegacyState imports a legacy JSON state file into the catalog and
// renames it to <path>.backup on success. Missing file is not an error;
// returns whether a migration ran.
func (c *Catalog) MigrateLegacyState(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading legacy state: %w", err)
	}

	var state legacyState
	if err := json.Unmarshal(data, &state); err != nil {
		return false, fmt.Errorf("parsing legacy state %s: %w", path, err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning migration tx: %w", err)
	}
	defer tx.Rollback()

	for fp, rec := range state.SyncRecords {
		start, err := time.Parse(time.RFC3339, rec.Metadata.StartTime)
		if err != nil {
			return false, fmt.Errorf("legacy record %s: bad start_time %q: %w", fp, rec.Metadata.StartTime, err)
		}
		created := rec.CreatedAt
		if created == "" {
			created = nowRFC3339()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO activity_records
				(fingerprint, name, sport_type, start_time, distance, duration, elevation_gain, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(fingerprint) DO NOTHING`,
			fp, rec.Metadata.Name, rec.Metadata.SportType,
			start.UTC().Format(time.RFC3339),
			rec.Metadata.Distance, rec.Metadata.Duration,
			toNullFloat64(rec.Metadata.ElevationGain), created, created)
		if err != nil {
			return false, fmt.Errorf("migrating record %s: %w", fp, err)
		}

		for platform, id := range rec.Platforms {
			if err := recordMapping(ctx, tx, fp, platform, id); err != nil {
				return false, err
			}
		}

		for direction, status := range rec.SyncStatus {
			src, dst, err := splitDirection(direction)
			if err != nil {
				continue // malformed direction keys (no "_to_") in old files are skipped
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO sync_status (fingerprint, source_platform, target_platform, status, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(fingerprint, source_platform, target_platform) DO NOTHING`,
				fp, src, dst, status, created)
			if err != nil {
				return false, fmt.Errorf("migrating status %s %s: %w", fp, direction, err)
			}
		}

		for format, filePath := range rec.Files {
			info, err := os.Stat(filePath)
			if err != nil {
				continue // stale cache pointers are dropped, not migrated
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO file_cache (fingerprint, file_format, file_path, file_size, created_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(fingerprint, file_format) DO NOTHING`,
				fp, format, filePath, info.Size(), created)
			if err != nil {
				return false, fmt.Errorf("migrating cache %s.%s: %w", fp, format, err)
			}
		}
	}

	now := nowRFC3339()
	for platform, last := range state.SyncConfig.LastSync {
		if last == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sync_config (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			"last_sync_"+platform, last, now); err != nil {
			return false, err
		}
	}
	for direction, enabled := range state.SyncConfig.SyncRules {
		value := "false"
		if enabled {
			value = "true"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sync_config (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			"sync_rule_"+direction, value, now); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing migration: %w", err)
	}

	if err := os.Rename(path, path+".backup"); err != nil {
		return true, fmt.Errorf("backing up legacy state: %w", err)
	}
	return true, nil
}

func splitDirection(direction string) (string, string, error) {
	for i := 0; i+4 <= len(direction); i++ {
		if direction[i:i+4] == "_to_" {
			src, dst := direction[:i], direction[i+4:]
			if src != "" && dst != "" {
				return src, dst, nil
			}
		}
	}
	return "", "", fmt.Errorf("malformed direction %q", direction)
}
