package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Doc is one row of the doc_status table.
type Doc struct {
	ID             string
	Status         string // "pending", "processing", "preprocessed", "processed", "failed"
	ContentSummary string
	ContentLength  int
	FilePath       string
	TrackID        string
	ChunksCount    int
	ErrorMsg       string
	Metadata       string // JSON object stored as text
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PageQuery selects a page of docs. An empty Status matches all rows.
type PageQuery struct {
	Status    string
	Limit     int
	Offset    int
	SortField string
	Desc      bool
}
