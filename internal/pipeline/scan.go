package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kalambet/ragdocs/internal/engine"
)

// RunScan indexes new files in the input directory. Files whose document is
// already processed are skipped; every other file is claimed before it is
// handed to IndexFiles so a concurrent scan does not pick it up again. With
// nothing new, it still flushes whatever the engine has queued.
func (p *Pipeline) RunScan(ctx context.Context, trackID string) error {
	p.logger.Info("starting input directory scan", "track_id", trackID)

	files, err := p.docs.ScanForNewFiles()
	if err != nil {
		return fmt.Errorf("scanning input directory: %w", err)
	}
	p.logger.Info("found new files", "count", len(files))

	if len(files) == 0 {
		p.logger.Info("No upload file found, check if there are any documents in the queue...")
		if err := p.engine.ProcessEnqueuedDocuments(ctx); err != nil {
			return fmt.Errorf("processing enqueued documents: %w", err)
		}
		return nil
	}

	var valid []string
	skipped := 0
	for _, path := range files {
		name := filepath.Base(path)
		rec, err := p.engine.GetDocByFilePath(ctx, name)
		if err != nil {
			return fmt.Errorf("looking up %s: %w", name, err)
		}
		if rec != nil && rec.Status == engine.StatusProcessed {
			p.logger.Warn(fmt.Sprintf("Skipping already processed file: %s", name))
			skipped++
			continue
		}
		p.docs.MarkAsIndexed(path)
		valid = append(valid, path)
	}

	enqueued := 0
	if len(valid) > 0 {
		enqueued, err = p.IndexFiles(ctx, valid, trackID)
		if err != nil {
			return err
		}
	}
	p.logger.Info(fmt.Sprintf("Scanning process completed: %d files Processed %d skipped.", len(valid), skipped),
		"enqueued", enqueued, "track_id", trackID)
	return nil
}
