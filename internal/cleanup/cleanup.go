// Package cleanup enforces the retention policy of the element file cache.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/tle_downloader/internal/logctx"
)

// DeleteExpiredEntries deletes cache files in dir whose modification time is
// older than keepFor. Stale partial downloads count as cache files. Paths in
// protected are never removed. It returns the number of files deleted.
func DeleteExpiredEntries(ctx context.Context, dir string, keepFor time.Duration, protected ...string) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}

		return 0, err
	}

	deleted := 0

	var freed int64

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())
		if slices.Contains(protected, filePath) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // already deleted
			}

			logger.Error("failed to stat cache file", "file", filePath, "err", err)

			return deleted, err
		}

		if now.Sub(info.ModTime()) <= keepFor {
			continue
		}

		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete expired cache file", "file", filePath, "err", err)

			return deleted, err
		}

		deleted++
		freed += info.Size()

		logger.Debug("deleted expired cache file", "file", filePath, "age", now.Sub(info.ModTime()).Round(time.Second))
	}

	if deleted > 0 {
		logger.Info("cache retention pass finished", "deleted", deleted, "freed", humanize.Bytes(uint64(freed)))
	}

	return deleted, nil
}
