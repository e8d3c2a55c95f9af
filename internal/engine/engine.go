package engine

import "context"

// Engine is the retrieval engine that owns document records. The ingestion
// pipeline hands it content and reads back status; chunking, embedding and
// graph storage happen behind this interface.
type Engine interface {
	// EnqueueDocuments admits docs into the processing queue as pending
	// records. Content already known by hash is skipped.
	EnqueueDocuments(ctx context.Context, docs []Document, trackID string) error

	// EnqueueErrorDocuments records files that could not be extracted as
	// failed documents. It must not fail the caller's batch.
	EnqueueErrorDocuments(ctx context.Context, records []ErrorRecord, trackID string) error

	// ProcessEnqueuedDocuments flushes the queue.
	ProcessEnqueuedDocuments(ctx context.Context) error

	// DeleteByDocID removes one document and everything derived from it.
	DeleteByDocID(ctx context.Context, id string, deleteLLMCache bool) (DeletionResult, error)

	// GetDocByFilePath returns nil, nil when no record has that path.
	GetDocByFilePath(ctx context.Context, path string) (*DocRecord, error)

	// GetDocByID returns nil, nil when the record does not exist.
	GetDocByID(ctx context.Context, id string) (*DocRecord, error)

	DocsByTrackID(ctx context.Context, trackID string) ([]DocRecord, error)

	// DocsPaginated returns one page of records and the total number of
	// records matching the filter.
	DocsPaginated(ctx context.Context, q PageQuery) ([]DocRecord, int, error)

	StatusCounts(ctx context.Context) (map[DocStatus]int, error)

	ClearLLMCache(ctx context.Context) error

	// Storages lists every storage component for a full wipe.
	Storages() []Storage
}

// Storage is a droppable storage component.
type Storage interface {
	Name() string
	// Drop removes all data. Dropping an empty storage succeeds.
	Drop(ctx context.Context) error
}
