package local

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/storage"
)

// DeleteByDocID removes a document's status row, text, chunks and,
// optionally, its LLM cache entries. It refuses while a non-deletion job
// holds the pipeline.
func (e *Engine) DeleteByDocID(ctx context.Context, id string, deleteLLMCache bool) (engine.DeletionResult, error) {
	view, err := e.status.Snapshot(ctx)
	if err != nil {
		return engine.DeletionResult{}, fmt.Errorf("reading pipeline status: %w", err)
	}
	if view.Busy && !strings.HasPrefix(view.JobName, "Deleting") {
		return engine.DeletionResult{
			Status:     engine.DeletionFail,
			DocID:      id,
			Message:    fmt.Sprintf("Cannot delete document while pipeline is busy with job %q", view.JobName),
			StatusCode: http.StatusConflict,
		}, nil
	}

	doc, err := e.docs.GetDoc(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return engine.DeletionResult{
			Status:     engine.DeletionNotFound,
			DocID:      id,
			Message:    fmt.Sprintf("Document %s not found", id),
			StatusCode: http.StatusNotFound,
		}, nil
	}
	if err != nil {
		return engine.DeletionResult{}, fmt.Errorf("loading doc %s: %w", id, err)
	}

	fail := func(step string, err error) (engine.DeletionResult, error) {
		e.logger.Error("deleting document", "doc_id", id, "step", step, "error", err)
		return engine.DeletionResult{
			Status:     engine.DeletionFail,
			DocID:      id,
			Message:    fmt.Sprintf("Failed to delete %s: %v", step, err),
			StatusCode: http.StatusInternalServerError,
			FilePath:   doc.FilePath,
		}, nil
	}

	n, err := e.chunks.DeletePrefix(ctx, id+":")
	if err != nil {
		return fail("chunks", err)
	}
	if err := e.fullDocs.Delete(ctx, id); err != nil {
		return fail("full text", err)
	}
	if deleteLLMCache {
		if _, err := e.llmCache.DeletePrefix(ctx, id+":"); err != nil {
			return fail("llm cache", err)
		}
	}
	if err := e.docs.DeleteDoc(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fail("doc status", err)
	}

	e.logger.Info("document deleted", "doc_id", id, "chunks", n, "file", doc.FilePath)
	return engine.DeletionResult{
		Status:     engine.DeletionSuccess,
		DocID:      id,
		Message:    fmt.Sprintf("Document %s deleted with %d chunks", id, n),
		StatusCode: http.StatusOK,
		FilePath:   doc.FilePath,
	}, nil
}
