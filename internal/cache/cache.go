// Package cache is the content-addressed store of activity media files.
// Files live at <dir>/<fingerprint>.<format>; a download from any source
// platform serves every direction that needs the same activity. The cache
// is advisory: deleting the directory only costs re-downloads, never
// catalog state.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitsync/internal/catalog"
	"fitsync/internal/convert"
	"fitsync/internal/governor"
	"fitsync/internal/platform"
)

// ErrNoSource is returned when no mapped platform can produce the file.
var ErrNoSource = errors.New("no source platform holds the activity file")

// Cache coordinates the cache directory, its catalog rows, the transcoder
// and source-platform downloads.
type Cache struct {
	dir      string
	store    *catalog.Catalog
	conv     convert.Converter
	registry *platform.Registry
	gov      *governor.Governor

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(dir string, store *catalog.Catalog, conv convert.Converter, registry *platform.Registry, gov *governor.Governor) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &Cache{
		dir:      dir,
		store:    store,
		conv:     conv,
		registry: registry,
		gov:      gov,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Path is the canonical location for a fingerprint's file in a format.
func (c *Cache) Path(fingerprint string, format platform.Format) string {
	return filepath.Join(c.dir, fingerprint+"."+string(format))
}

// EnsureFile produces the activity's file in the wanted format: from the
// cache, by transcoding another cached format, or by downloading from a
// platform known (via mappings) to hold the activity.
func (c *Cache) EnsureFile(ctx context.Context, fingerprint string, want platform.Format) (string, error) {
	// Concurrent callers for the same fingerprint serialize for the whole
	// download window.
	unlock := c.lock(fingerprint)
	defer unlock()

	if path, ok, err := c.cached(ctx, fingerprint, want); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	if path, ok, err := c.transcodeFromCache(ctx, fingerprint, want); err != nil {
		return "", err
	} else if ok {
		return path, nil
	}

	return c.download(ctx, fingerprint, want)
}

// cached checks for a live entry; dangling rows are dropped on sight.
func (c *Cache) cached(ctx context.Context, fingerprint string, want platform.Format) (string, bool, error) {
	entry, err := c.store.GetCache(ctx, fingerprint, string(want))
	if errors.Is(err, catalog.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(entry.Path); err != nil {
		if derr := c.store.DeleteCache(ctx, fingerprint, string(want)); derr != nil {
			return "", false, derr
		}
		return "", false, nil
	}
	return entry.Path, true, nil
}

func (c *Cache) transcodeFromCache(ctx context.Context, fingerprint string, want platform.Format) (string, bool, error) {
	entries, err := c.store.ListCacheForFingerprint(ctx, fingerprint)
	if err != nil {
		return "", false, err
	}
	for _, entry := range entries {
		from, ok := platform.ParseFormat(entry.Format)
		if !ok || !c.conv.Supports(from, want) {
			continue
		}
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			continue
		}
		converted, err := c.conv.Convert(data, from, want)
		if err != nil {
			return "", false, fmt.Errorf("transcoding %s %s->%s: %w", fingerprint, from, want, err)
		}
		path, err := c.register(ctx, fingerprint, want, converted)
		if err != nil {
			return "", false, err
		}
		return path, true, nil
	}
	return "", false, nil
}

func (c *Cache) download(ctx context.Context, fingerprint string, want platform.Format) (string, error) {
	mappings, err := c.store.ListMappings(ctx, fingerprint)
	if err != nil {
		return "", err
	}

	var lastErr error = ErrNoSource
	for platformName, remoteID := range mappings {
		adapter, err := c.registry.Get(platformName)
		if err != nil {
			continue
		}
		info := adapter.Info()
		if info.CostPerDownload > 0 {
			decision, err := c.gov.Reserve(ctx, platformName, info.CostPerDownload)
			if err != nil {
				return "", err
			}
			if !decision.Granted {
				return "", &governor.DeniedError{Platform: platformName, RetryAfter: decision.RetryAfter}
			}
		}

		data, actual, err := adapter.Download(ctx, remoteID, want)
		if err != nil {
			lastErr = err
			continue
		}

		path, err := c.register(ctx, fingerprint, actual, data)
		if err != nil {
			return "", err
		}
		if actual == want {
			return path, nil
		}
		if !c.conv.Supports(actual, want) {
			lastErr = fmt.Errorf("%s downloads as %s which cannot become %s: %w",
				platformName, actual, want, convert.ErrUnsupportedConversion)
			continue
		}
		converted, err := c.conv.Convert(data, actual, want)
		if err != nil {
			return "", err
		}
		return c.register(ctx, fingerprint, want, converted)
	}
	return "", lastErr
}

// register stages the bytes under a temporary name, renames into place and
// records the catalog row.
func (c *Cache) register(ctx context.Context, fingerprint string, format platform.Format, data []byte) (string, error) {
	tmp := filepath.Join(c.dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("staging cache file: %w", err)
	}
	path := c.Path(fingerprint, format)
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("placing cache file: %w", err)
	}
	if err := c.store.RecordCache(ctx, fingerprint, string(format), path, int64(len(data))); err != nil {
		return "", err
	}
	return path, nil
}

// Sweep removes expired entries (and their files) plus rows whose file
// vanished. Runs at startup and behind --cleanup-cache.
func (c *Cache) Sweep(ctx context.Context, ttl time.Duration) (removed int, err error) {
	expired, err := c.store.PurgeCache(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	for _, entry := range expired {
		if rmErr := os.Remove(entry.Path); rmErr == nil || os.IsNotExist(rmErr) {
			removed++
		}
	}

	// Dangling rows: file gone but row still present.
	entries, err := c.store.ListCache(ctx)
	if err != nil {
		return removed, err
	}
	for _, entry := range entries {
		if _, statErr := os.Stat(entry.Path); statErr == nil {
			continue
		}
		if delErr := c.store.DeleteCache(ctx, entry.Fingerprint, entry.Format); delErr != nil {
			return removed, delErr
		}
		removed++
	}
	return removed, nil
}

func (c *Cache) lock(fingerprint string) func() {
	c.mu.Lock()
	l, ok := c.locks[fingerprint]
	if !ok {
		l = &sync.Mutex{}
		c.locks[fingerprint] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}
