package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"greplay/internal/logger"
	"greplay/pkg/metrics"
	"greplay/pkg/models"
)

type LoadSummary struct {
	Files  int
	Saved  int
	Failed int
}

// Loader writes notification messages from disk straight to the backend,
// skipping the dedup cache.
type Loader struct {
	backend Saver
	logger  logger.Logger
}

func NewLoader(backend Saver, log logger.Logger) *Loader {
	return &Loader{
		backend: backend,
		logger:  log.Component("loader"),
	}
}

// LoadPath loads one file, or every *.json file below a directory. Malformed
// files are counted and skipped; a backend error stops the batch.
func (l *Loader) LoadPath(ctx context.Context, path string) (LoadSummary, error) {
	var summary LoadSummary

	info, err := os.Stat(path)
	if err != nil {
		return summary, err
	}

	if !info.IsDir() {
		return summary, l.loadFile(ctx, path, &summary)
	}

	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".json") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return l.loadFile(ctx, p, &summary)
	})
	return summary, err
}

func (l *Loader) loadFile(ctx context.Context, path string, summary *LoadSummary) error {
	summary.Files++
	l.logger.Infow("Processing file", "path", path)

	raw, err := os.ReadFile(path)
	if err != nil {
		l.fail(summary, path, err)
		return nil
	}

	msg, err := models.ParseNotificationMessage(raw)
	if err != nil {
		l.fail(summary, path, err)
		return nil
	}

	if err := l.backend.Save(ctx, msg); err != nil {
		metrics.LoadedFilesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to save %s: %w", path, err)
	}

	summary.Saved++
	metrics.LoadedFilesTotal.WithLabelValues("saved").Inc()
	return nil
}

func (l *Loader) fail(summary *LoadSummary, path string, err error) {
	summary.Failed++
	metrics.LoadedFilesTotal.WithLabelValues("invalid").Inc()
	l.logger.Warnw("Skipping malformed notification message", "path", path, "error", err)
}
