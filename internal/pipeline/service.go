package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/extract"
	"github.com/kalambet/ragdocs/internal/pathsec"
	"github.com/kalambet/ragdocs/internal/status"
)

// InputError is a request refused before any work starts. Transports map it
// to a client error.
type InputError struct {
	Msg string
	Err error
}

func (e *InputError) Error() string { return e.Msg }
func (e *InputError) Unwrap() error { return e.Err }

func invalid(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// Response is the common reply to a submission.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	TrackID string `json:"track_id,omitempty"`
}

// DeleteResponse is the reply to a deletion request.
type DeleteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	DocID   string `json:"doc_id"`
}

// TrackStatus lists the documents submitted under one track ID.
type TrackStatus struct {
	TrackID       string             `json:"track_id"`
	Documents     []engine.DocRecord `json:"documents"`
	TotalCount    int                `json:"total_count"`
	StatusSummary map[string]int     `json:"status_summary"`
}

// PageRequest selects a page of documents. Zero values take defaults.
type PageRequest struct {
	StatusFilter  string `json:"status_filter"`
	Page          int    `json:"page"`
	PageSize      int    `json:"page_size"`
	SortField     string `json:"sort_field"`
	SortDirection string `json:"sort_direction"`
}

type Pagination struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalCount int  `json:"total_count"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// DocumentsPage is one page of documents plus the overall status counts.
type DocumentsPage struct {
	Documents    []engine.DocRecord `json:"documents"`
	Pagination   Pagination         `json:"pagination"`
	StatusCounts map[string]int     `json:"status_counts"`
}

// Service is the surface the HTTP and MCP transports call. Long-running work
// is started on background goroutines bound to the service context.
type Service struct {
	p      *Pipeline
	ctx    context.Context
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewService returns a Service whose background tasks run under ctx.
func NewService(ctx context.Context, p *Pipeline) *Service {
	return &Service{p: p, ctx: ctx, logger: p.logger}
}

// Pipeline returns the underlying pipeline.
func (s *Service) Pipeline() *Pipeline { return s.p }

// Go runs fn in the background and logs its error.
func (s *Service) Go(task string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", task, "panic", r)
			}
		}()
		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("background task failed", "task", task, "error", err)
		}
	}()
}

// Wait blocks until every background task has returned.
func (s *Service) Wait() { s.wg.Wait() }

// Scan starts a background scan of the input directory.
func (s *Service) Scan() Response {
	trackID := NewTrackID("scan")
	s.Go("scan", func(ctx context.Context) error {
		return s.p.RunScan(ctx, trackID)
	})
	return Response{
		Status:  "scanning_started",
		Message: "Scanning process has been initiated in the background",
		TrackID: trackID,
	}
}

// AutoScan runs one scan per workspace lifetime. It reports false if a scan
// was already started by this or another process sharing the status store.
func (s *Service) AutoScan(ctx context.Context) (bool, error) {
	first := false
	err := s.p.status.Update(ctx, func(r *status.Record) error {
		if !r.Autoscanned {
			r.Autoscanned = true
			first = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("marking auto scan: %w", err)
	}
	if first {
		s.Scan()
	}
	return first, nil
}

// Upload stores r as filename in the input directory and indexes it in the
// background.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (Response, error) {
	docs := s.p.docs
	name, err := pathsec.SanitizeFilename(filename, docs.InputDir())
	if err != nil {
		return Response{}, &InputError{Msg: err.Error(), Err: err}
	}
	if !docs.IsSupported(name) {
		return Response{}, invalid("Unsupported file type. Supported types: %s",
			strings.Join(extract.SupportedExtensions(), ", "))
	}

	rec, err := s.p.engine.GetDocByFilePath(ctx, name)
	if err != nil {
		return Response{}, fmt.Errorf("checking for duplicate: %w", err)
	}
	if rec != nil {
		return Response{
			Status:  "duplicated",
			Message: fmt.Sprintf("File '%s' already exists in document storage (Status: %s).", name, rec.Status),
			TrackID: rec.TrackID,
		}, nil
	}

	path := filepath.Join(docs.InputDir(), name)
	if _, err := os.Lstat(path); err == nil {
		return Response{
			Status:  "duplicated",
			Message: fmt.Sprintf("File '%s' already exists in the input directory.", name),
		}, nil
	}

	// Write under an unsupported name so scans never see a partial file.
	part := filepath.Join(docs.InputDir(), "."+name+".part")
	f, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return Response{
			Status:  "duplicated",
			Message: fmt.Sprintf("File '%s' is already being uploaded.", name),
		}, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(part)
		return Response{}, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return Response{}, fmt.Errorf("writing %s: %w", name, err)
	}

	docs.MarkAsIndexed(path)
	if err := os.Rename(part, path); err != nil {
		docs.Forget(path)
		os.Remove(part)
		return Response{}, fmt.Errorf("storing %s: %w", name, err)
	}
	trackID := NewTrackID("upload")
	s.Go("upload", func(ctx context.Context) error {
		return s.p.IndexFile(ctx, path, trackID)
	})
	return Response{
		Status:  "success",
		Message: fmt.Sprintf("File '%s' uploaded successfully. Processing will continue in background.", name),
		TrackID: trackID,
	}, nil
}

// InsertText submits one text with an optional source name.
func (s *Service) InsertText(ctx context.Context, text, source string) (Response, error) {
	var sources []string
	if source != "" {
		sources = []string{source}
	}
	return s.insert(ctx, []string{text}, sources, "Text successfully received. Processing will continue in background.")
}

// InsertTexts submits several texts. sources may be shorter than texts.
func (s *Service) InsertTexts(ctx context.Context, texts, sources []string) (Response, error) {
	return s.insert(ctx, texts, sources,
		fmt.Sprintf("%d texts successfully submitted. Processing will continue in background.", len(texts)))
}

func (s *Service) insert(ctx context.Context, texts, sources []string, okMsg string) (Response, error) {
	if len(texts) == 0 {
		return Response{}, invalid("Texts cannot be empty")
	}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return Response{}, invalid("Text cannot be empty")
		}
	}
	if len(sources) > len(texts) {
		return Response{}, invalid("Got %d file sources for %d texts", len(sources), len(texts))
	}

	for _, src := range sources {
		if src == "" || src == engine.UnknownSource {
			continue
		}
		rec, err := s.p.engine.GetDocByFilePath(ctx, src)
		if err != nil {
			return Response{}, fmt.Errorf("checking for duplicate source: %w", err)
		}
		if rec != nil {
			return Response{
				Status:  "duplicated",
				Message: fmt.Sprintf("File source '%s' already exists in document storage (Status: %s).", src, rec.Status),
				TrackID: rec.TrackID,
			}, nil
		}
	}
	for _, t := range texts {
		id := engine.ComputeDocID(engine.SanitizeText(t))
		rec, err := s.p.engine.GetDocByID(ctx, id)
		if err != nil {
			return Response{}, fmt.Errorf("checking for duplicate content: %w", err)
		}
		if rec != nil {
			return Response{
				Status:  "duplicated",
				Message: fmt.Sprintf("Identical content already exists in document storage (doc_id: %s, Status: %s).", id, rec.Status),
				TrackID: rec.TrackID,
			}, nil
		}
	}

	trackID := NewTrackID("insert")
	texts, sources = slices.Clone(texts), slices.Clone(sources)
	s.Go("insert", func(ctx context.Context) error {
		return s.p.IndexTexts(ctx, texts, sources, trackID)
	})
	return Response{Status: "success", Message: okMsg, TrackID: trackID}, nil
}

// DeleteDocuments starts a background deletion unless a job is running.
func (s *Service) DeleteDocuments(ctx context.Context, ids []string, deleteFile, deleteLLMCache bool) (DeleteResponse, error) {
	if len(ids) == 0 {
		return DeleteResponse{}, invalid("Document IDs list cannot be empty")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return DeleteResponse{}, invalid("Document IDs cannot be empty")
		}
		if _, dup := seen[id]; dup {
			return DeleteResponse{}, invalid("Document IDs must be unique")
		}
		seen[id] = struct{}{}
	}

	view, err := s.p.status.Snapshot(ctx)
	if err != nil {
		return DeleteResponse{}, fmt.Errorf("reading pipeline status: %w", err)
	}
	joined := strings.Join(ids, ", ")
	if view.Busy {
		return DeleteResponse{
			Status:  "busy",
			Message: "Cannot delete documents while pipeline is busy",
			DocID:   joined,
		}, nil
	}

	ids = slices.Clone(ids)
	s.Go("delete", func(ctx context.Context) error {
		s.p.DeleteDocuments(ctx, ids, deleteFile, deleteLLMCache)
		return nil
	})
	return DeleteResponse{
		Status:  "deletion_started",
		Message: fmt.Sprintf("Document deletion for %d documents has been initiated. Processing will continue in background.", len(ids)),
		DocID:   joined,
	}, nil
}

// Clear wipes every document synchronously.
func (s *Service) Clear(ctx context.Context) (ClearResult, error) {
	return s.p.ClearDocuments(ctx)
}

// ClearCache drops the engine's LLM response cache.
func (s *Service) ClearCache(ctx context.Context) (Response, error) {
	if err := s.p.engine.ClearLLMCache(ctx); err != nil {
		return Response{}, fmt.Errorf("clearing llm cache: %w", err)
	}
	return Response{Status: "success", Message: "Successfully cleared LLM response cache"}, nil
}

// Cancel asks the running job to stop at its next checkpoint.
func (s *Service) Cancel(ctx context.Context) (Response, error) {
	ok, err := status.RequestCancel(ctx, s.p.status)
	if err != nil {
		return Response{}, fmt.Errorf("requesting cancellation: %w", err)
	}
	if !ok {
		return Response{
			Status:  "not_busy",
			Message: "Pipeline is not currently running. No cancellation needed.",
		}, nil
	}
	return Response{
		Status:  "cancellation_requested",
		Message: "Pipeline cancellation has been requested. Documents will be marked as FAILED.",
	}, nil
}

// Reprocess runs the processing step in the background, picking up failed
// and pending documents.
func (s *Service) Reprocess() Response {
	s.Go("reprocess", s.p.engine.ProcessEnqueuedDocuments)
	return Response{
		Status:  "reprocessing_started",
		Message: "Reprocessing of failed documents has been initiated in background. Documents retain their original track_id.",
	}
}

// PipelineStatus returns the current status view.
func (s *Service) PipelineStatus(ctx context.Context) (status.View, error) {
	return s.p.status.Snapshot(ctx)
}

// TrackStatus returns the documents submitted under trackID.
func (s *Service) TrackStatus(ctx context.Context, trackID string) (TrackStatus, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return TrackStatus{}, invalid("Track ID cannot be empty")
	}
	docs, err := s.p.engine.DocsByTrackID(ctx, trackID)
	if err != nil {
		return TrackStatus{}, fmt.Errorf("loading documents for %s: %w", trackID, err)
	}
	if docs == nil {
		docs = []engine.DocRecord{}
	}
	summary := make(map[string]int)
	for _, d := range docs {
		summary[string(d.Status)]++
	}
	return TrackStatus{
		TrackID:       trackID,
		Documents:     docs,
		TotalCount:    len(docs),
		StatusSummary: summary,
	}, nil
}

// Documents returns one page of documents.
func (s *Service) Documents(ctx context.Context, req PageRequest) (DocumentsPage, error) {
	q, err := pageQuery(req)
	if err != nil {
		return DocumentsPage{}, err
	}
	docs, total, err := s.p.engine.DocsPaginated(ctx, q)
	if err != nil {
		return DocumentsPage{}, fmt.Errorf("loading documents: %w", err)
	}
	counts, err := s.StatusCounts(ctx)
	if err != nil {
		return DocumentsPage{}, err
	}
	if docs == nil {
		docs = []engine.DocRecord{}
	}
	pages := (total + q.PageSize - 1) / q.PageSize
	return DocumentsPage{
		Documents: docs,
		Pagination: Pagination{
			Page:       q.Page,
			PageSize:   q.PageSize,
			TotalCount: total,
			TotalPages: pages,
			HasNext:    q.Page < pages,
			HasPrev:    q.Page > 1,
		},
		StatusCounts: counts,
	}, nil
}

func pageQuery(req PageRequest) (engine.PageQuery, error) {
	q := engine.PageQuery{
		Page:          req.Page,
		PageSize:      req.PageSize,
		SortField:     req.SortField,
		SortDirection: strings.ToLower(req.SortDirection),
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = 50
	}
	if q.SortField == "" {
		q.SortField = "updated_at"
	}
	if q.SortDirection == "" {
		q.SortDirection = "desc"
	}

	if req.StatusFilter != "" {
		st, ok := engine.ParseStatus(req.StatusFilter)
		if !ok {
			return q, invalid("Unknown status filter: %s", req.StatusFilter)
		}
		q.Status = st
	}
	if q.Page < 1 {
		return q, invalid("Page must be at least 1")
	}
	if q.PageSize < 10 || q.PageSize > 200 {
		return q, invalid("Page size must be between 10 and 200")
	}
	if !slices.Contains(engine.SortFields, q.SortField) {
		return q, invalid("Sort field must be one of: %s", strings.Join(engine.SortFields, ", "))
	}
	if q.SortDirection != "asc" && q.SortDirection != "desc" {
		return q, invalid("Sort direction must be asc or desc")
	}
	return q, nil
}

// StatusCounts returns the number of documents per status, with every
// status present and "all" holding the total.
func (s *Service) StatusCounts(ctx context.Context) (map[string]int, error) {
	counts, err := s.p.engine.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	out := make(map[string]int, len(engine.AllStatuses)+1)
	total := 0
	for _, st := range engine.AllStatuses {
		out[string(st)] = counts[st]
		total += counts[st]
	}
	out["all"] = total
	return out, nil
}
