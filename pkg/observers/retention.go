package observers

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PurgeArtifacts removes files under dir (recursively) older than maxAge
// and returns how many it deleted.
func PurgeArtifacts(dir string, maxAge time.Duration) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	var removed int
	var errs error
	cutoff := time.Now().Add(-maxAge)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = errors.Join(errs, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = errors.Join(errs, err)
			return nil
		}
		removed++
		return nil
	})
	if walkErr != nil {
		errs = errors.Join(errs, walkErr)
	}
	return removed, errs
}

// RunRetention purges once immediately and then every interval until ctx ends.
func RunRetention(ctx context.Context, dir string, maxAge, interval time.Duration, log *slog.Logger) {
	if dir == "" || maxAge <= 0 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	purge := func() {
		n, err := PurgeArtifacts(dir, maxAge)
		if err != nil {
			log.Warn("artifact_purge_error", slog.String("error", err.Error()))
		}
		if n > 0 {
			log.Info("artifact_purge", slog.Int("removed", n), slog.String("dir", dir))
		}
	}
	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}
