package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// IndexFile enqueues one file and, if that worked, runs the engine's
// processing step.
func (p *Pipeline) IndexFile(ctx context.Context, path, trackID string) error {
	ok, _ := p.EnqueueFile(ctx, path, trackID)
	if !ok {
		return nil
	}
	if err := p.engine.ProcessEnqueuedDocuments(ctx); err != nil {
		return fmt.Errorf("processing enqueued documents: %w", err)
	}
	return nil
}

// IndexFiles enqueues paths one at a time in collation order and runs the
// processing step once if at least one file was enqueued. It returns the
// number of files enqueued.
func (p *Pipeline) IndexFiles(ctx context.Context, paths []string, trackID string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	sorted := sortForIndexing(paths)

	enqueued := 0
	for _, path := range sorted {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		if ok, _ := p.EnqueueFile(ctx, path, trackID); ok {
			enqueued++
		}
	}
	p.logger.Info("batch enqueued", "track_id", trackID, "files", len(sorted), "enqueued", enqueued)

	if enqueued == 0 {
		return 0, nil
	}
	if err := p.engine.ProcessEnqueuedDocuments(ctx); err != nil {
		return enqueued, fmt.Errorf("processing enqueued documents: %w", err)
	}
	return enqueued, nil
}

// sortForIndexing orders paths by base name with Chinese collation, which
// puts Han names in pinyin order alongside Latin ones.
func sortForIndexing(paths []string) []string {
	out := slices.Clone(paths)
	c := collate.New(language.Chinese, collate.Loose)
	slices.SortStableFunc(out, func(a, b string) int {
		if n := c.CompareString(filepath.Base(a), filepath.Base(b)); n != 0 {
			return n
		}
		return c.CompareString(a, b)
	})
	return out
}

// IndexTexts enqueues raw texts and runs the processing step.
func (p *Pipeline) IndexTexts(ctx context.Context, texts, sources []string, trackID string) error {
	if len(texts) == 0 {
		return nil
	}
	if err := p.EnqueueTexts(ctx, texts, sources, trackID); err != nil {
		return err
	}
	if err := p.engine.ProcessEnqueuedDocuments(ctx); err != nil {
		return fmt.Errorf("processing enqueued documents: %w", err)
	}
	return nil
}
