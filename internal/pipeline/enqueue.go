package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/ragdocs/internal/documents"
	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/extract"
)

// EnqueueFile extracts one file and hands its text to the engine. Every
// per-file failure is recorded through the engine's error sink and reported
// as false; it never aborts the caller. On success the source file moves to
// the __enqueued__ directory.
func (p *Pipeline) EnqueueFile(ctx context.Context, path, trackID string) (bool, string) {
	if trackID == "" {
		trackID = NewTrackID("unknown")
	}
	name := filepath.Base(path)
	temp := strings.HasPrefix(name, TempPrefix)
	log := p.logger.With("file", name, "track_id", trackID)

	defer func() {
		if !temp {
			return
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Error("removing temporary file", "error", err)
		}
	}()

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	fail := func(xe *extract.Error) (bool, string) {
		rec := engine.ErrorRecord{
			FilePath:      name,
			Description:   xe.Description,
			OriginalError: xe.Detail,
			FileSize:      size,
		}
		if err := p.engine.EnqueueErrorDocuments(ctx, []engine.ErrorRecord{rec}, trackID); err != nil {
			log.Error("recording extraction error", "error", err)
		}
		log.Error("file not enqueued", "kind", xe.Kind.String(), "error", xe.Error())
		return false, trackID
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(readError(err))
	}

	text, err := p.extractor.Extract(ctx, data, filepath.Ext(name))
	if err != nil {
		var xe *extract.Error
		if !errors.As(err, &xe) {
			xe = extract.NewError(extract.KindFormatProcessing, "Unexpected processing error", err,
				"Unexpected error: %v", err)
		}
		return fail(xe)
	}

	if text == "" {
		return fail(extract.NewError(extract.KindNoContent, "No content extracted", nil,
			"No content could be extracted from file"))
	}
	if strings.TrimSpace(text) == "" {
		return fail(extract.NewError(extract.KindEmptyContent, extract.Prefix+"File contains only whitespace", nil,
			"File content contains only whitespace characters"))
	}

	if err := p.engine.EnqueueDocuments(ctx, []engine.Document{{Content: text, FilePath: name}}, trackID); err != nil {
		return fail(extract.NewError(extract.KindEnqueue, "Document enqueue error", err,
			"Failed to enqueue document: %v", err))
	}
	log.Info("file extracted and enqueued")

	if !temp {
		if err := p.moveToEnqueued(path); err != nil {
			log.Error("moving file to enqueued directory", "error", err)
		}
	}
	return true, trackID
}

func readError(err error) *extract.Error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return extract.NewError(extract.KindPermissionDenied, extract.Prefix+"Permission denied - cannot read file", err, "%v", err)
	case errors.Is(err, fs.ErrNotExist):
		return extract.NewError(extract.KindFileNotFound, extract.Prefix+"File not found", err, "%v", err)
	default:
		return extract.NewError(extract.KindFileRead, extract.Prefix+"File reading error", err, "%v", err)
	}
}

func (p *Pipeline) moveToEnqueued(path string) error {
	dir := filepath.Join(filepath.Dir(path), documents.EnqueuedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	target := filepath.Join(dir, UniqueEnqueuedName(dir, filepath.Base(path), p.now().Unix()))
	if err := os.Rename(path, target); err != nil {
		return err
	}
	p.logger.Debug("moved file to enqueued directory", "file", filepath.Base(path), "target", filepath.Base(target))
	return nil
}

// UniqueEnqueuedName returns name if dir has no such file, otherwise the first
// free base_NNN.ext for NNN in 001..999, and finally base_<unix>.ext.
func UniqueEnqueuedName(dir, name string, unix int64) string {
	free := func(n string) bool {
		_, err := os.Lstat(filepath.Join(dir, n))
		return errors.Is(err, fs.ErrNotExist)
	}
	if free(name) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; i <= 999; i++ {
		candidate := fmt.Sprintf("%s_%03d%s", base, i, ext)
		if free(candidate) {
			return candidate
		}
	}
	return fmt.Sprintf("%s_%d%s", base, unix, ext)
}

// EnqueueTexts hands raw texts to the engine. A shorter, non-empty sources
// list is padded with engine.UnknownSource.
func (p *Pipeline) EnqueueTexts(ctx context.Context, texts, sources []string, trackID string) error {
	if len(sources) != 0 {
		for len(sources) < len(texts) {
			sources = append(sources, engine.UnknownSource)
		}
	}
	docs := make([]engine.Document, len(texts))
	for i, t := range texts {
		docs[i] = engine.Document{Content: t}
		if i < len(sources) {
			docs[i].FilePath = sources[i]
		}
	}
	if err := p.engine.EnqueueDocuments(ctx, docs, trackID); err != nil {
		return fmt.Errorf("enqueueing texts: %w", err)
	}
	return nil
}
