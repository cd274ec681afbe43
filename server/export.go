package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// Exporter writes rendered results under a download directory. Files are
// transient: the sweeper removes them once they outlive the TTL.
type Exporter struct {
	dir    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewExporter(dir string, ttl time.Duration, logger *zap.Logger) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{dir: dir, ttl: ttl, logger: logger.Named("exporter")}, nil
}

// Write stores data as a fresh PNG file and returns its path.
func (e *Exporter) Write(id string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s.png", id, ksuid.New().String())
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

// Sweep removes export files older than the TTL. Wired to a cron schedule.
func (e *Exporter) Sweep() {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		e.logger.Warn("sweep failed to read export dir", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-e.ttl)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(e.dir, entry.Name())); err != nil {
			e.logger.Warn("sweep failed to remove file",
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		e.logger.Info("swept stale exports", zap.Int("removed", removed))
	}
}
