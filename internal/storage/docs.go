package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const docColumns = `id, status, content_summary, content_length, file_path, track_id, chunks_count, error_msg, metadata, created_at, updated_at`

// sortColumns whitelists ORDER BY targets.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"id":         "id",
	"file_path":  "file_path",
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(r rowScanner) (Doc, error) {
	var d Doc
	var createdAt, updatedAt string
	if err := r.Scan(&d.ID, &d.Status, &d.ContentSummary, &d.ContentLength, &d.FilePath, &d.TrackID,
		&d.ChunksCount, &d.ErrorMsg, &d.Metadata, &createdAt, &updatedAt); err != nil {
		return Doc{}, err
	}
	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Doc{}, fmt.Errorf("parsing created_at for doc %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Doc{}, fmt.Errorf("parsing updated_at for doc %s: %w", d.ID, err)
	}
	return d, nil
}

func (s *Store) queryDocs(ctx context.Context, query string, args ...any) ([]Doc, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		d, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// InsertDoc adds d unless a row with the same ID exists. It reports whether
// the row was inserted.
func (s *Store) InsertDoc(ctx context.Context, d Doc) (bool, error) {
	if d.Metadata == "" {
		d.Metadata = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_status (`+docColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		d.ID, d.Status, d.ContentSummary, d.ContentLength, d.FilePath, d.TrackID,
		d.ChunksCount, d.ErrorMsg, d.Metadata, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpsertDoc inserts d or replaces every field but created_at.
func (s *Store) UpsertDoc(ctx context.Context, d Doc) error {
	if d.Metadata == "" {
		d.Metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_status (`+docColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			content_summary = excluded.content_summary,
			content_length = excluded.content_length,
			file_path = excluded.file_path,
			track_id = excluded.track_id,
			chunks_count = excluded.chunks_count,
			error_msg = excluded.error_msg,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		d.ID, d.Status, d.ContentSummary, d.ContentLength, d.FilePath, d.TrackID,
		d.ChunksCount, d.ErrorMsg, d.Metadata, fmtTime(d.CreatedAt), fmtTime(d.UpdatedAt),
	)
	return err
}

func (s *Store) GetDoc(ctx context.Context, id string) (Doc, error) {
	d, err := scanDoc(s.db.QueryRowContext(ctx, `SELECT `+docColumns+` FROM doc_status WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	return d, err
}

// GetDocByFilePath returns the most recently created row with path.
func (s *Store) GetDocByFilePath(ctx context.Context, path string) (Doc, error) {
	d, err := scanDoc(s.db.QueryRowContext(ctx, `
		SELECT `+docColumns+` FROM doc_status WHERE file_path = ?
		ORDER BY created_at DESC LIMIT 1`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, ErrNotFound
	}
	return d, err
}

// DocsByStatus returns rows in any of statuses, oldest first.
func (s *Store) DocsByStatus(ctx context.Context, statuses ...string) ([]Doc, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	placeholders := strings.Repeat(",?", len(statuses)-1)
	return s.queryDocs(ctx, `SELECT `+docColumns+` FROM doc_status
		WHERE status IN (?`+placeholders+`) ORDER BY created_at ASC, id ASC`, args...)
}

func (s *Store) DocsByTrackID(ctx context.Context, trackID string) ([]Doc, error) {
	return s.queryDocs(ctx, `SELECT `+docColumns+` FROM doc_status
		WHERE track_id = ? ORDER BY created_at ASC, id ASC`, trackID)
}

// DocsPage returns one page of rows plus the total number of matching rows.
func (s *Store) DocsPage(ctx context.Context, q PageQuery) ([]Doc, int, error) {
	col, ok := sortColumns[q.SortField]
	if !ok {
		return nil, 0, fmt.Errorf("invalid sort field %q", q.SortField)
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}

	where := ""
	var args []any
	if q.Status != "" {
		where = " WHERE status = ?"
		args = append(args, q.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM doc_status`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting docs: %w", err)
	}

	args = append(args, q.Limit, q.Offset)
	docs, err := s.queryDocs(ctx, `SELECT `+docColumns+` FROM doc_status`+where+
		` ORDER BY `+col+` `+dir+`, id `+dir+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing docs: %w", err)
	}
	return docs, total, nil
}

// StatusCounts returns the number of rows per status.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM doc_status GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// UpdateDocStatus moves a row to status, recording errMsg and chunks.
func (s *Store) UpdateDocStatus(ctx context.Context, id, status, errMsg string, chunks int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE doc_status SET status = ?, error_msg = ?, chunks_count = ?, updated_at = ?
		WHERE id = ?`, status, errMsg, chunks, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDoc(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM doc_status WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllDocs empties doc_status and returns the number of rows removed.
func (s *Store) DeleteAllDocs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM doc_status`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
