package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/ragdocs/internal/pipeline"
	"github.com/kalambet/ragdocs/internal/status"
)

// Lister reports input files that have not been handed to indexing yet.
type Lister interface {
	ScanForNewFiles() ([]string, error)
}

// Scanner starts background scans and exposes the pipeline state.
type Scanner interface {
	Scan() pipeline.Response
	PipelineStatus(ctx context.Context) (status.View, error)
}

// Worker watches the input directory and starts a scan whenever a file
// shows up that the previous poll did not see.
type Worker struct {
	lister  Lister
	scanner Scanner
	poll    time.Duration
	logger  *slog.Logger

	seen map[string]struct{}
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 30s.
func NewWorker(lister Lister, scanner Scanner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Worker{
		lister:  lister,
		scanner: scanner,
		poll:    pollInterval,
		logger:  slog.Default(),
		seen:    make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("input watch iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce lists the input directory and starts a scan if it holds files
// not seen before. Returns true if a scan was started. Nothing happens
// while the pipeline is busy; the files are picked up on a later poll.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	v, err := w.scanner.PipelineStatus(ctx)
	if err != nil {
		return false, fmt.Errorf("reading pipeline status: %w", err)
	}
	if v.Busy {
		return false, nil
	}

	files, err := w.lister.ScanForNewFiles()
	if err != nil {
		return false, fmt.Errorf("listing input files: %w", err)
	}

	current := make(map[string]struct{}, len(files))
	fresh := 0
	for _, f := range files {
		current[f] = struct{}{}
		if _, ok := w.seen[f]; !ok {
			fresh++
		}
	}
	// Files that vanished are dropped so they trigger again if re-added.
	w.seen = current

	if fresh == 0 {
		return false, nil
	}

	resp := w.scanner.Scan()
	w.logger.Info("new input files detected", "files", fresh, "track_id", resp.TrackID)
	return true, nil
}
