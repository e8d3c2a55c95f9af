package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps the record in the pipeline_status and pipeline_history
// tables so several server processes sharing one data directory observe the
// same busy and cancellation flags. Each Update is a single transaction.
type SQLiteStore struct {
	db        *sql.DB
	workspace string
}

// NewSQLiteStore returns the store for workspace. The tables are created by
// the storage migrations.
func NewSQLiteStore(db *sql.DB, workspace string) *SQLiteStore {
	return &SQLiteStore{db: db, workspace: workspace}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) load(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (Record, error) {
	var r Record
	var jobStart string
	var busy, pending, cancel, auto int
	err := q.QueryRowContext(ctx, `
		SELECT busy, job_name, job_start, docs, batchs, cur_batch, request_pending,
			cancellation_requested, autoscanned, latest_message
		FROM pipeline_status WHERE workspace = ?`, s.workspace,
	).Scan(&busy, &r.JobName, &jobStart, &r.Docs, &r.Batchs, &r.CurBatch, &pending, &cancel, &auto, &r.LatestMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading pipeline status: %w", err)
	}
	r.Busy, r.RequestPending, r.CancellationRequested, r.Autoscanned = busy == 1, pending == 1, cancel == 1, auto == 1
	if jobStart != "" {
		if r.JobStart, err = time.Parse(time.RFC3339Nano, jobStart); err != nil {
			return Record{}, fmt.Errorf("parsing job_start: %w", err)
		}
	}
	return r, nil
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(*Record) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning status transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := s.load(ctx, tx)
	if err != nil {
		return err
	}
	if err := fn(&r); err != nil {
		return err
	}

	jobStart := ""
	if !r.JobStart.IsZero() {
		jobStart = r.JobStart.UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pipeline_status (workspace, busy, job_name, job_start, docs, batchs, cur_batch,
			request_pending, cancellation_requested, autoscanned, latest_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace) DO UPDATE SET
			busy = excluded.busy,
			job_name = excluded.job_name,
			job_start = excluded.job_start,
			docs = excluded.docs,
			batchs = excluded.batchs,
			cur_batch = excluded.cur_batch,
			request_pending = excluded.request_pending,
			cancellation_requested = excluded.cancellation_requested,
			autoscanned = excluded.autoscanned,
			latest_message = excluded.latest_message`,
		s.workspace, boolInt(r.Busy), r.JobName, jobStart, r.Docs, r.Batchs, r.CurBatch,
		boolInt(r.RequestPending), boolInt(r.CancellationRequested), boolInt(r.Autoscanned), r.LatestMessage,
	); err != nil {
		return fmt.Errorf("writing pipeline status: %w", err)
	}

	if r.resetHistory {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pipeline_history WHERE workspace = ?`, s.workspace); err != nil {
			return fmt.Errorf("resetting history: %w", err)
		}
	}
	for _, msg := range r.appended {
		if _, err := tx.ExecContext(ctx, `INSERT INTO pipeline_history (workspace, message) VALUES (?, ?)`, s.workspace, msg); err != nil {
			return fmt.Errorf("appending history: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Snapshot(ctx context.Context) (View, error) {
	r, err := s.load(ctx, s.db)
	if err != nil {
		return View{}, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pipeline_history WHERE workspace = ?`, s.workspace).Scan(&total); err != nil {
		return View{}, fmt.Errorf("counting history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message FROM (
			SELECT id, message FROM pipeline_history WHERE workspace = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, s.workspace, MaxHistory)
	if err != nil {
		return View{}, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	history := make([]string, 0, min(total, MaxHistory)+1)
	if total > MaxHistory {
		history = append(history, fmt.Sprintf("[Truncated history messages: %d/%d]", total-MaxHistory, total))
	}
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return View{}, err
		}
		history = append(history, msg)
	}
	if err := rows.Err(); err != nil {
		return View{}, err
	}

	return View{
		Busy:                  r.Busy,
		JobName:               r.JobName,
		JobStart:              r.JobStart,
		Docs:                  r.Docs,
		Batchs:                r.Batchs,
		CurBatch:              r.CurBatch,
		RequestPending:        r.RequestPending,
		CancellationRequested: r.CancellationRequested,
		Autoscanned:           r.Autoscanned,
		LatestMessage:         r.LatestMessage,
		HistoryMessages:       history,
	}, nil
}
