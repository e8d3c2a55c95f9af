package engine

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// DocStatus is the lifecycle state of a document record.
type DocStatus string

const (
	StatusPending      DocStatus = "pending"
	StatusProcessing   DocStatus = "processing"
	StatusPreprocessed DocStatus = "preprocessed"
	StatusProcessed    DocStatus = "processed"
	StatusFailed       DocStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []DocStatus{
	StatusPending, StatusProcessing, StatusPreprocessed, StatusProcessed, StatusFailed,
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (DocStatus, bool) {
	st := DocStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range AllStatuses {
		if v == st {
			return st, true
		}
	}
	return "", false
}

// UnknownSource is the file path recorded for content with no source file.
const UnknownSource = "unknown_source"

// Document is one piece of content submitted for indexing.
type Document struct {
	Content  string
	FilePath string
}

// DocRecord is the engine's status record for one document.
type DocRecord struct {
	ID             string         `json:"id"`
	Status         DocStatus      `json:"status"`
	ContentSummary string         `json:"content_summary"`
	ContentLength  int            `json:"content_length"`
	FilePath       string         `json:"file_path"`
	TrackID        string         `json:"track_id,omitempty"`
	ChunksCount    int            `json:"chunks_count,omitempty"`
	ErrorMsg       string         `json:"error_msg,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ErrorRecord describes a file that failed before it reached the queue.
type ErrorRecord struct {
	FilePath      string
	Description   string
	OriginalError string
	FileSize      int64
}

// Deletion outcomes.
const (
	DeletionSuccess  = "success"
	DeletionNotFound = "not_found"
	DeletionFail     = "fail"
)

// DeletionResult is the outcome of DeleteByDocID.
type DeletionResult struct {
	Status     string
	DocID      string
	Message    string
	StatusCode int
	FilePath   string
}

// Sort fields accepted by DocsPaginated.
var SortFields = []string{"created_at", "updated_at", "id", "file_path"}

// PageQuery selects a page of document records. An empty Status matches
// every status.
type PageQuery struct {
	Status        DocStatus
	Page          int
	PageSize      int
	SortField     string
	SortDirection string
}

// ComputeDocID derives the document ID from its content.
func ComputeDocID(content string) string {
	sum := md5.Sum([]byte(content))
	return "doc-" + hex.EncodeToString(sum[:])
}

// ComputeErrorID derives the ID of a failed-extraction record from its path.
func ComputeErrorID(filePath string) string {
	sum := md5.Sum([]byte(filePath))
	return "error-" + hex.EncodeToString(sum[:])
}

// SanitizeText drops invalid UTF-8 and NUL bytes and trims surrounding
// whitespace.
func SanitizeText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
