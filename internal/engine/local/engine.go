// Package local is a self-contained document engine: doc-status rows in
// SQLite, document text and chunks in badger, and a processing loop that
// cooperates with the workspace pipeline status.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/kvstore"
	"github.com/kalambet/ragdocs/internal/status"
	"github.com/kalambet/ragdocs/internal/storage"
)

// Namespaces in the KV store.
const (
	NamespaceFullDocs   = "full_docs"
	NamespaceTextChunks = "text_chunks"
	NamespaceLLMCache   = "llm_cache"
)

const summaryLength = 100

// Chunk is one slice of a document's text.
type Chunk struct {
	DocID   string `json:"doc_id"`
	Order   int    `json:"order"`
	Content string `json:"content"`
	Runes   int    `json:"runes"`
}

// Indexer receives the chunks of every processed document. A returned error
// fails the document.
type Indexer interface {
	IndexChunks(ctx context.Context, docID string, chunks []Chunk) error
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc func(ctx context.Context, docID string, chunks []Chunk) error

func (f IndexerFunc) IndexChunks(ctx context.Context, docID string, chunks []Chunk) error {
	return f(ctx, docID, chunks)
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithIndexer(ix Indexer) Option {
	return func(e *Engine) { e.indexer = ix }
}

// WithChunking sets chunk size and overlap in runes.
func WithChunking(size, overlap int) Option {
	return func(e *Engine) {
		e.chunkSize = size
		e.chunkOverlap = overlap
	}
}

// Engine implements engine.Engine.
type Engine struct {
	docs     *storage.Store
	fullDocs *kvstore.Namespace
	chunks   *kvstore.Namespace
	llmCache *kvstore.Namespace
	status   status.Store

	chunkSize    int
	chunkOverlap int
	indexer      Indexer
	logger       *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New builds an Engine over docs and kv, coordinating through st.
func New(docs *storage.Store, kv *kvstore.Store, st status.Store, opts ...Option) *Engine {
	e := &Engine{
		docs:         docs,
		fullDocs:     kv.Namespace(NamespaceFullDocs),
		chunks:       kv.Namespace(NamespaceTextChunks),
		llmCache:     kv.Namespace(NamespaceLLMCache),
		status:       st,
		chunkSize:    1200,
		chunkOverlap: 100,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type fullDoc struct {
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
}

func summarize(content string) string {
	r := []rune(content)
	if len(r) <= summaryLength {
		return content
	}
	return string(r[:summaryLength]) + "..."
}

func (e *Engine) EnqueueDocuments(ctx context.Context, docs []engine.Document, trackID string) error {
	seen := make(map[string]bool, len(docs))
	added := 0
	for _, d := range docs {
		content := engine.SanitizeText(d.Content)
		if content == "" {
			e.logger.Warn("ignoring empty document", "file", d.FilePath, "track_id", trackID)
			continue
		}
		id := engine.ComputeDocID(content)
		if seen[id] {
			e.logger.Warn("ignoring duplicate document in batch", "doc_id", id, "file", d.FilePath)
			continue
		}
		seen[id] = true

		path := d.FilePath
		if path == "" {
			path = engine.UnknownSource
		}

		if _, err := e.docs.GetDoc(ctx, id); err == nil {
			e.logger.Warn("ignoring already known document", "doc_id", id, "file", path)
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("checking doc %s: %w", id, err)
		}

		if err := e.fullDocs.Put(ctx, id, fullDoc{Content: content, FilePath: path}); err != nil {
			return fmt.Errorf("storing full text of %s: %w", id, err)
		}
		now := time.Now()
		if _, err := e.docs.InsertDoc(ctx, storage.Doc{
			ID:             id,
			Status:         string(engine.StatusPending),
			ContentSummary: summarize(content),
			ContentLength:  len([]rune(content)),
			FilePath:       path,
			TrackID:        trackID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return fmt.Errorf("creating doc status %s: %w", id, err)
		}
		added++
	}
	e.logger.Info("documents enqueued", "count", added, "track_id", trackID)
	return nil
}

func (e *Engine) EnqueueErrorDocuments(ctx context.Context, records []engine.ErrorRecord, trackID string) error {
	for _, rec := range records {
		meta, _ := json.Marshal(map[string]any{
			"error_type": "file_extraction_error",
			"file_size":  rec.FileSize,
		})
		now := time.Now()
		err := e.docs.UpsertDoc(ctx, storage.Doc{
			ID:             engine.ComputeErrorID(rec.FilePath),
			Status:         string(engine.StatusFailed),
			ContentSummary: "[File Extraction Error] " + rec.Description,
			FilePath:       rec.FilePath,
			TrackID:        trackID,
			ErrorMsg:       rec.Description + ": " + rec.OriginalError,
			Metadata:       string(meta),
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			e.logger.Error("recording extraction error", "file", rec.FilePath, "track_id", trackID, "error", err)
		}
	}
	return nil
}

func toRecord(d storage.Doc) engine.DocRecord {
	rec := engine.DocRecord{
		ID:             d.ID,
		Status:         engine.DocStatus(d.Status),
		ContentSummary: d.ContentSummary,
		ContentLength:  d.ContentLength,
		FilePath:       d.FilePath,
		TrackID:        d.TrackID,
		ChunksCount:    d.ChunksCount,
		ErrorMsg:       d.ErrorMsg,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.Metadata != "" && d.Metadata != "{}" {
		_ = json.Unmarshal([]byte(d.Metadata), &rec.Metadata)
	}
	return rec
}

func toRecords(docs []storage.Doc) []engine.DocRecord {
	out := make([]engine.DocRecord, len(docs))
	for i, d := range docs {
		out[i] = toRecord(d)
	}
	return out
}

func (e *Engine) GetDocByFilePath(ctx context.Context, path string) (*engine.DocRecord, error) {
	d, err := e.docs.GetDocByFilePath(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := toRecord(d)
	return &rec, nil
}

func (e *Engine) GetDocByID(ctx context.Context, id string) (*engine.DocRecord, error) {
	d, err := e.docs.GetDoc(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := toRecord(d)
	return &rec, nil
}

func (e *Engine) DocsByTrackID(ctx context.Context, trackID string) ([]engine.DocRecord, error) {
	docs, err := e.docs.DocsByTrackID(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return toRecords(docs), nil
}

func (e *Engine) DocsPaginated(ctx context.Context, q engine.PageQuery) ([]engine.DocRecord, int, error) {
	docs, total, err := e.docs.DocsPage(ctx, storage.PageQuery{
		Status:    string(q.Status),
		Limit:     q.PageSize,
		Offset:    (q.Page - 1) * q.PageSize,
		SortField: q.SortField,
		Desc:      q.SortDirection == "desc",
	})
	if err != nil {
		return nil, 0, err
	}
	return toRecords(docs), total, nil
}

func (e *Engine) StatusCounts(ctx context.Context) (map[engine.DocStatus]int, error) {
	raw, err := e.docs.StatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[engine.DocStatus]int, len(raw))
	for k, v := range raw {
		counts[engine.DocStatus(k)] = v
	}
	return counts, nil
}

// CacheLLMResult stores an extraction result for docID so it can be
// dropped along with the document.
func (e *Engine) CacheLLMResult(ctx context.Context, docID, key string, value any) error {
	return e.llmCache.Put(ctx, docID+":"+key, value)
}

func (e *Engine) ClearLLMCache(ctx context.Context) error {
	return e.llmCache.Drop(ctx)
}

func (e *Engine) Storages() []engine.Storage {
	return []engine.Storage{e.fullDocs, e.chunks, docStatusStorage{e.docs}}
}

type docStatusStorage struct {
	docs *storage.Store
}

func (docStatusStorage) Name() string { return "doc_status" }

func (s docStatusStorage) Drop(ctx context.Context) error {
	_, err := s.docs.DeleteAllDocs(ctx)
	return err
}
