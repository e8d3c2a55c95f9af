package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/status"
	"github.com/kalambet/ragdocs/internal/storage"
)

const (
	processJobName     = "Default Job"
	cancelledByUserMsg = "User cancelled"
)

// ProcessEnqueuedDocuments drains pending, failed and stuck processing
// documents. When another job holds the pipeline it only flags
// request_pending and returns.
func (e *Engine) ProcessEnqueuedDocuments(ctx context.Context) error {
	started := false
	err := e.status.Update(ctx, func(r *status.Record) error {
		if r.Busy {
			r.RequestPending = true
			return nil
		}
		started = true
		r.Busy = true
		r.JobName = processJobName
		r.JobStart = time.Now()
		r.Docs, r.Batchs, r.CurBatch = 0, 0, 0
		r.RequestPending = false
		r.CancellationRequested = false
		r.ResetHistory()
		r.Log("Processing queued documents")
		return nil
	})
	if err != nil {
		return fmt.Errorf("starting processing job: %w", err)
	}
	if !started {
		e.logger.Info("pipeline busy, processing request queued")
		return nil
	}

	defer func() {
		// A fresh context so the pipeline is released even if ctx ended.
		if _, err := status.Finish(context.WithoutCancel(ctx), e.status, "Document processing pipeline completed"); err != nil {
			e.logger.Error("releasing pipeline", "error", err)
		}
	}()

	for {
		cancelled, err := e.processBatch(ctx)
		if err != nil {
			return err
		}
		if cancelled {
			return nil
		}

		again := false
		err = e.status.Update(ctx, func(r *status.Record) error {
			if r.RequestPending {
				r.RequestPending = false
				r.Log("Processing additional documents due to pending request")
				again = true
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("checking pending request: %w", err)
		}
		if !again {
			return nil
		}
	}
}

// processBatch runs one pass over the queue. It reports whether the pass
// stopped on a cancellation request.
func (e *Engine) processBatch(ctx context.Context) (bool, error) {
	queued, err := e.docs.DocsByStatus(ctx,
		string(engine.StatusProcessing), string(engine.StatusFailed), string(engine.StatusPending))
	if err != nil {
		return false, fmt.Errorf("loading queued documents: %w", err)
	}

	// Failed rows without stored text are extraction errors; nothing to retry.
	var work []storage.Doc
	for _, d := range queued {
		if d.Status == string(engine.StatusFailed) {
			ok, err := e.fullDocs.Has(ctx, d.ID)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
		}
		work = append(work, d)
	}

	total := len(work)
	if err := e.status.Update(ctx, func(r *status.Record) error {
		r.Docs, r.Batchs, r.CurBatch = total, total, 0
		if total == 0 {
			r.Log("No documents to process")
		} else {
			r.Log(fmt.Sprintf("Processing %d document(s)", total))
		}
		return nil
	}); err != nil {
		return false, err
	}

	for i, d := range work {
		cancelled, err := status.Cancelled(ctx, e.status)
		if err != nil {
			return false, fmt.Errorf("reading cancellation flag: %w", err)
		}
		if cancelled {
			for _, rest := range work[i:] {
				if err := e.docs.UpdateDocStatus(ctx, rest.ID, string(engine.StatusFailed), cancelledByUserMsg, rest.ChunksCount); err != nil {
					e.logger.Error("marking cancelled document", "doc_id", rest.ID, "error", err)
				}
			}
			msg := fmt.Sprintf("Processing cancelled by user at document %d/%d. %d remaining marked failed.", i+1, total, total-i)
			status.Log(ctx, e.status, msg)
			e.logger.Info(msg)
			return true, nil
		}

		if err := e.status.Update(ctx, func(r *status.Record) error {
			r.CurBatch = i + 1
			r.Log(fmt.Sprintf("Processing document %d/%d: %s", i+1, total, d.FilePath))
			return nil
		}); err != nil {
			return false, err
		}

		if err := e.processDoc(ctx, d); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			e.logger.Warn("document processing failed", "doc_id", d.ID, "file", d.FilePath, "error", err)
			if uerr := e.docs.UpdateDocStatus(ctx, d.ID, string(engine.StatusFailed), err.Error(), 0); uerr != nil {
				e.logger.Error("marking failed document", "doc_id", d.ID, "error", uerr)
			}
			status.Log(ctx, e.status, fmt.Sprintf("Failed to process document %s: %v", d.ID, err))
		}
	}
	return false, nil
}

func (e *Engine) processDoc(ctx context.Context, d storage.Doc) error {
	if err := e.docs.UpdateDocStatus(ctx, d.ID, string(engine.StatusProcessing), "", 0); err != nil {
		return err
	}

	var full fullDoc
	found, err := e.fullDocs.Get(ctx, d.ID, &full)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("document content not found")
	}

	chunks := chunkText(d.ID, full.Content, e.chunkSize, e.chunkOverlap)
	entries := make(map[string]any, len(chunks))
	for _, c := range chunks {
		entries[chunkKey(d.ID, c.Order)] = c
	}
	if _, err := e.chunks.DeletePrefix(ctx, d.ID+":"); err != nil {
		return fmt.Errorf("clearing old chunks: %w", err)
	}
	if err := e.chunks.PutMany(ctx, entries); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}
	if err := e.docs.UpdateDocStatus(ctx, d.ID, string(engine.StatusPreprocessed), "", len(chunks)); err != nil {
		return err
	}

	if e.indexer != nil {
		if err := e.indexer.IndexChunks(ctx, d.ID, chunks); err != nil {
			return fmt.Errorf("indexing chunks: %w", err)
		}
	}

	return e.docs.UpdateDocStatus(ctx, d.ID, string(engine.StatusProcessed), "", len(chunks))
}
