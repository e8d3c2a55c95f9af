package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/ragdocs/internal/status"
)

// Outcomes of ClearDocuments.
const (
	ClearSuccess        = "success"
	ClearPartialSuccess = "partial_success"
	ClearFail           = "fail"
	ClearBusy           = "busy"
)

// ClearResult is what ClearDocuments reports to the caller.
type ClearResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ClearDocuments drops every engine storage and deletes the top-level files
// in the input directory. Individual storage failures are tolerated; the job
// fails only when every drop fails.
func (p *Pipeline) ClearDocuments(ctx context.Context) (ClearResult, error) {
	err := status.Begin(ctx, p.status, status.Job{
		Name:         "Clearing Documents",
		Message:      "Starting document clearing process",
		ClearPending: true,
	})
	if errors.Is(err, status.ErrBusy) {
		return ClearResult{Status: ClearBusy, Message: "Cannot clear documents while pipeline is busy"}, nil
	}
	if err != nil {
		return ClearResult{}, fmt.Errorf("starting clear job: %w", err)
	}
	defer func() {
		if _, err := status.Finish(context.WithoutCancel(ctx), p.status, "Document clearing process completed"); err != nil {
			p.logger.Error("finishing clear job", "error", err)
		}
	}()

	storages := p.engine.Storages()
	p.history(ctx, "Starting to drop storage components")

	errs := make([]error, len(storages))
	var g errgroup.Group
	for i, s := range storages {
		g.Go(func() error {
			if err := s.Drop(ctx); err != nil {
				errs[i] = fmt.Errorf("dropping %s: %w", s.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	dropErrors := 0
	for _, err := range errs {
		if err != nil {
			dropErrors++
			p.logger.Error("storage drop failed", "error", err)
		}
	}
	if dropErrors > 0 {
		p.history(ctx, fmt.Sprintf("Dropped %d storage components with %d errors", len(storages)-dropErrors, dropErrors))
	} else {
		p.history(ctx, fmt.Sprintf("Successfully dropped all %d storage components", len(storages)))
	}

	if len(storages) > 0 && dropErrors == len(storages) {
		msg := "All storage drop operations failed. Aborting document clearing process."
		p.report(ctx, msg)
		return ClearResult{Status: ClearFail, Message: msg}, nil
	}

	p.history(ctx, "Starting to delete files in input directory")
	deleted, fileErrors := p.clearInputDir()
	if fileErrors > 0 {
		p.history(ctx, fmt.Sprintf("Deleted %d files with %d errors", deleted, fileErrors))
		dropErrors++
	} else {
		p.history(ctx, fmt.Sprintf("Successfully deleted %d files", deleted))
	}

	if dropErrors > 0 {
		msg := fmt.Sprintf("Cleared documents with some errors. Deleted %d files.", deleted)
		p.report(ctx, msg)
		return ClearResult{Status: ClearPartialSuccess, Message: msg}, nil
	}
	msg := fmt.Sprintf("All documents cleared successfully. Deleted %d files.", deleted)
	p.report(ctx, msg)
	return ClearResult{Status: ClearSuccess, Message: msg}, nil
}

// clearInputDir removes regular files directly under the input directory.
// Subdirectories, including __enqueued__, are left alone.
func (p *Pipeline) clearInputDir() (deleted, failed int) {
	dir := p.docs.InputDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.logger.Error("reading input directory", "error", err)
		return 0, 1
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			p.logger.Error("deleting input file", "file", e.Name(), "error", err)
			failed++
			continue
		}
		p.docs.Forget(path)
		deleted++
	}
	return deleted, failed
}
