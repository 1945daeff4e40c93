// Package videocache stores assembled clips on disk keyed by a normalized
// request signature. Concurrent requests for the same signature share a
// single build, and a background pruner evicts clips that have not been
// rebuilt recently.
package videocache

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/c360/framevault/config"
	"github.com/c360/framevault/errors"
	"github.com/c360/framevault/metric"
)

// Cache manages assembled video files under a single directory.
type Cache struct {
	dir       string
	threshold time.Duration
	interval  time.Duration
	group     singleflight.Group
	logger    *slog.Logger

	hits   prometheus.Counter
	misses prometheus.Counter
	pruned prometheus.Counter
}

// New creates the cache directory if needed and returns a Cache. The registry
// may be nil, in which case no metrics are exported.
func New(cfg config.CacheConfig, logger *slog.Logger, registry *metric.MetricsRegistry) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, errors.WrapFatal(err, "Cache", "New", "create cache dir "+cfg.Dir)
	}

	c := &Cache{
		dir:       cfg.Dir,
		threshold: cfg.PruneThreshold.Std(),
		interval:  cfg.PruneInterval.Std(),
		logger:    logger,
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framevault_cache_hits_total",
			Help: "Video requests served from an existing cached file",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framevault_cache_misses_total",
			Help: "Video requests that triggered a build",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "framevault_cache_pruned_total",
			Help: "Cached videos removed by the pruner",
		}),
	}

	if registry != nil {
		if err := registry.RegisterCounter("cache", "framevault_cache_hits_total", c.hits); err != nil {
			return nil, err
		}
		if err := registry.RegisterCounter("cache", "framevault_cache_misses_total", c.misses); err != nil {
			return nil, err
		}
		if err := registry.RegisterCounter("cache", "framevault_cache_pruned_total", c.pruned); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Signature normalizes a video request into a canonical string. Parameter
// order and timestamp formatting never vary, so equivalent requests always
// produce the same signature.
func Signature(location, camera string, start, end time.Time) string {
	params := url.Values{
		"locationName":   []string{location},
		"cameraId":       []string{camera},
		"startTimestamp": []string{start.UTC().Format(time.RFC3339)},
		"endTimestamp":   []string{end.UTC().Format(time.RFC3339)},
	}
	// Encode sorts keys alphabetically
	return params.Encode()
}

// Path returns the on-disk location for a signature. The signature is
// base64url encoded so slashes and colons never leak into filenames.
func (c *Cache) Path(sig string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(sig)) + ".mp4"
	return filepath.Join(c.dir, name)
}

// GetOrBuild returns the cached file for sig, invoking build to produce it if
// it does not exist. Concurrent callers with the same signature share one
// build; the losers block until the winner finishes and then reuse its file.
func (c *Cache) GetOrBuild(ctx context.Context, sig string, build func(ctx context.Context, path string) error) (string, error) {
	path := c.Path(sig)

	// The build serves every caller waiting on this flight, so it must not
	// die with the winning caller's context.
	buildCtx := context.WithoutCancel(ctx)

	_, err, _ := c.group.Do(sig, func() (any, error) {
		if _, statErr := os.Stat(path); statErr == nil {
			c.hits.Inc()
			c.logger.Debug("Video cache hit", "path", path)
			return nil, nil
		}

		c.misses.Inc()
		c.logger.Debug("Video cache miss, building", "path", path)

		if buildErr := build(buildCtx, path); buildErr != nil {
			// Leave no partial file behind for later requests to hit
			_ = os.Remove(path)
			return nil, buildErr
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// StartPruner launches the background eviction loop. It stops when ctx is
// cancelled.
func (c *Cache) StartPruner(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.pruneOnce()
			}
		}
	}()
}

// pruneOnce removes cached videos whose modification time is older than the
// threshold.
func (c *Cache) pruneOnce() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("Cache prune scan failed", "dir", c.dir, "error", err)
		return
	}

	cutoff := time.Now().Add(-c.threshold)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn("Cache prune failed to remove file", "path", path, "error", err)
			continue
		}
		c.pruned.Inc()
		c.logger.Debug("Pruned cached video", "path", path, "age", time.Since(info.ModTime()))
	}
}
