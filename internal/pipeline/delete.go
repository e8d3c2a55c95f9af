package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/pathsec"
	"github.com/kalambet/ragdocs/internal/status"
)

// DeleteDocuments deletes ids one at a time as a pipeline job. It does
// nothing if another job holds the pipeline. Cancellation is honoured before
// each document; documents already deleted stay deleted. With deleteFile, the
// source file and its copies under __enqueued__ are removed after their
// paths are re-validated.
func (p *Pipeline) DeleteDocuments(ctx context.Context, ids []string, deleteFile, deleteLLMCache bool) {
	total := len(ids)
	err := status.Begin(ctx, p.status, status.Job{
		Name:    fmt.Sprintf("Deleting %d Documents", total),
		Docs:    total,
		Batchs:  total,
		Message: "Starting document deletion process",
	})
	if errors.Is(err, status.ErrBusy) {
		p.logger.Warn("pipeline busy, deletion not started", "docs", total)
		return
	}
	if err != nil {
		p.logger.Error("starting deletion job", "error", err)
		return
	}
	if deleteLLMCache {
		p.history(ctx, "LLM cache cleanup requested for this deletion job")
	}

	var deleted, failed []string
	defer func() {
		// The job must be released even when ctx was cancelled mid-run.
		ctx := context.WithoutCancel(ctx)
		msg := fmt.Sprintf("Deletion completed: %d successful, %d failed", len(deleted), len(failed))
		pending, err := status.Finish(ctx, p.status, msg)
		if err != nil {
			p.logger.Error("finishing deletion job", "error", err)
			return
		}
		p.logger.Info(msg)
		if pending {
			if err := p.engine.ProcessEnqueuedDocuments(ctx); err != nil {
				p.logger.Error("processing pending documents after deletion", "error", err)
			}
		}
	}()

	for i, id := range ids {
		n := i + 1
		cancelled, err := status.Cancelled(ctx, p.status)
		if err != nil {
			p.logger.Error("reading cancellation flag", "error", err)
			failed = append(failed, ids[i:]...)
			return
		}
		if cancelled {
			p.report(ctx, fmt.Sprintf("Deletion cancelled by user at document %d/%d. %d deleted, %d remaining.",
				n, total, len(deleted), total-i))
			failed = append(failed, ids[i:]...)
			return
		}

		err = p.status.Update(ctx, func(r *status.Record) error {
			r.CurBatch = n
			r.Log(fmt.Sprintf("Deleting document %d/%d: %s", n, total, id))
			return nil
		})
		if err != nil {
			p.logger.Error("updating pipeline status", "error", err)
		}

		res, err := p.engine.DeleteByDocID(ctx, id, deleteLLMCache)
		if err != nil {
			p.report(ctx, fmt.Sprintf("Error deleting document %d/%d: %s[%s] - %v", n, total, id, res.FilePath, err))
			failed = append(failed, id)
			continue
		}
		if res.Status != engine.DeletionSuccess {
			p.report(ctx, fmt.Sprintf("Failed to delete %d/%d: %s[%s] - %s", n, total, id, res.FilePath, res.Message))
			failed = append(failed, id)
			continue
		}

		deleted = append(deleted, id)
		p.report(ctx, fmt.Sprintf("Document deleted %d/%d: %s[%s]", n, total, id, res.FilePath))

		if !deleteFile {
			continue
		}
		if res.FilePath == "" || res.FilePath == engine.UnknownSource {
			p.history(ctx, fmt.Sprintf("File deletion skipped, missing file path: %s", id))
			continue
		}
		p.deleteSourceFiles(ctx, res.FilePath)
	}
}

// deleteSourceFiles removes the input file named by filePath and any
// same-stem files under __enqueued__. Failures are reported, never returned.
func (p *Pipeline) deleteSourceFiles(ctx context.Context, filePath string) {
	inputDir := p.docs.InputDir()
	removed := 0

	target, ok := pathsec.ValidatePath(filePath, inputDir)
	if !ok {
		p.history(ctx, fmt.Sprintf("Security violation: Unsafe file path detected for deletion - %s", filePath))
	} else if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
		if err := os.Remove(target); err != nil {
			p.history(ctx, fmt.Sprintf("Failed to delete input_dir file %s: %v", filePath, err))
		} else {
			removed++
			p.docs.Forget(target)
			p.history(ctx, fmt.Sprintf("Successfully deleted input_dir file: %s", filePath))
		}
	}

	name := filepath.Base(filePath)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	enqueuedDir := p.docs.EnqueuedDir()

	sibling := regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `(_\d{3}|_\d{9,})?` + regexp.QuoteMeta(ext) + `$`)

	entries, err := os.ReadDir(enqueuedDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Error("reading enqueued directory", "error", err)
	}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !sibling.MatchString(n) {
			continue
		}
		path, ok := pathsec.ValidatePath(n, enqueuedDir)
		if !ok {
			p.history(ctx, fmt.Sprintf("Security violation: Unsafe enqueued file path detected - %s", n))
			continue
		}
		if err := os.Remove(path); err != nil {
			p.history(ctx, fmt.Sprintf("Failed to delete enqueued file %s: %v", n, err))
			continue
		}
		removed++
		p.history(ctx, fmt.Sprintf("Successfully deleted enqueued file: %s", n))
	}

	if removed == 0 {
		p.history(ctx, fmt.Sprintf("File deletion skipped, missing or unsafe file: %s", filePath))
	}
}
