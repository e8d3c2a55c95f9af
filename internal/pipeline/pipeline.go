// Package pipeline turns files and texts into tracked engine submissions and
// runs the scan, deletion and clearing jobs that share the workspace
// pipeline status.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/ragdocs/internal/documents"
	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/status"
)

// TempPrefix marks files that are removed once their enqueue attempt ends.
const TempPrefix = "__tmp__"

// Extractor converts file bytes to text by extension. Implemented by
// extract.Registry.
type Extractor interface {
	Extract(ctx context.Context, data []byte, ext string) (string, error)
}

// Pipeline wires the engine, extractor, input directory and status store of
// one workspace.
type Pipeline struct {
	engine    engine.Engine
	extractor Extractor
	docs      *documents.Manager
	status    status.Store
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New returns a Pipeline for the workspace served by docs.
func New(eng engine.Engine, ex Extractor, docs *documents.Manager, st status.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine:    eng,
		extractor: ex,
		docs:      docs,
		status:    st,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("workspace", docs.Workspace())
	return p
}

// NewTrackID returns "<kind>_<YYYYMMDD_HHMMSS>_<8 hex chars>".
func NewTrackID(kind string) string {
	return newTrackID(kind, time.Now())
}

func newTrackID(kind string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s", kind, t.Format("20060102_150405"), uuid.NewString()[:8])
}

// history appends msg to the status history without changing the latest
// message.
func (p *Pipeline) history(ctx context.Context, msg string) {
	err := p.status.Update(ctx, func(r *status.Record) error {
		r.Append(msg)
		return nil
	})
	if err != nil {
		p.logger.Error("updating pipeline history", "error", err)
	}
}

// report logs msg as the latest message.
func (p *Pipeline) report(ctx context.Context, msg string) {
	if err := status.Log(ctx, p.status, msg); err != nil {
		p.logger.Error("updating pipeline status", "error", err)
	}
}
