// Package status holds the per-workspace pipeline status record: the busy
// flag, progress counters, cancellation flag and message history that every
// batch job shares.
//
// All mutation goes through Store.Update, which runs a short callback under
// the workspace lock. Callers never hold the lock across extraction or engine
// calls.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxHistory is the number of history messages a Snapshot returns.
const MaxHistory = 1000

// ErrBusy reports that another job holds the pipeline.
var ErrBusy = errors.New("pipeline busy")

// Record is the mutable view handed to an Update callback. History is not
// loaded; use Log and ResetHistory to change it.
type Record struct {
	Busy                  bool
	JobName               string
	JobStart              time.Time
	Docs                  int
	Batchs                int
	CurBatch              int
	RequestPending        bool
	CancellationRequested bool
	Autoscanned           bool
	LatestMessage         string

	resetHistory bool
	appended     []string
}

// Log sets the latest message and appends it to history.
func (r *Record) Log(msg string) {
	r.LatestMessage = msg
	r.appended = append(r.appended, msg)
}

// Append adds msg to history without touching the latest message.
func (r *Record) Append(msg string) {
	r.appended = append(r.appended, msg)
}

// ResetHistory discards all earlier history, including anything appended
// before the call in the same update.
func (r *Record) ResetHistory() {
	r.resetHistory = true
	r.appended = r.appended[:0]
}

// View is the read-only snapshot returned to API consumers.
type View struct {
	Busy                  bool      `json:"busy"`
	JobName               string    `json:"job_name"`
	JobStart              time.Time `json:"-"`
	Docs                  int       `json:"docs"`
	Batchs                int       `json:"batchs"`
	CurBatch              int       `json:"cur_batch"`
	RequestPending        bool      `json:"request_pending"`
	CancellationRequested bool      `json:"cancellation_requested"`
	Autoscanned           bool      `json:"autoscanned"`
	LatestMessage         string    `json:"latest_message"`
	HistoryMessages       []string  `json:"history_messages"`
}

// Store is one workspace's pipeline status.
type Store interface {
	// Update runs fn with exclusive access to the record. Changes are
	// committed only if fn returns nil.
	Update(ctx context.Context, fn func(*Record) error) error
	// Snapshot returns the current state with history truncated to the
	// most recent MaxHistory messages.
	Snapshot(ctx context.Context) (View, error)
}

// truncate keeps the newest MaxHistory messages behind a marker line.
func truncate(history []string) []string {
	total := len(history)
	if total <= MaxHistory {
		out := make([]string, total)
		copy(out, history)
		return out
	}
	out := make([]string, 0, MaxHistory+1)
	out = append(out, fmt.Sprintf("[Truncated history messages: %d/%d]", total-MaxHistory, total))
	return append(out, history[total-MaxHistory:]...)
}

// Job describes a batch job being started.
type Job struct {
	Name    string
	Docs    int
	Batchs  int
	Message string
	// ClearPending drops any queued request_pending flag at start.
	ClearPending bool
}

// Begin marks the pipeline busy for job. It returns ErrBusy without changing
// anything if another job is running.
func Begin(ctx context.Context, s Store, job Job) error {
	return s.Update(ctx, func(r *Record) error {
		if r.Busy {
			return ErrBusy
		}
		r.Busy = true
		r.JobName = job.Name
		r.JobStart = time.Now()
		r.Docs = job.Docs
		r.Batchs = job.Batchs
		r.CurBatch = 0
		r.CancellationRequested = false
		if job.ClearPending {
			r.RequestPending = false
		}
		r.ResetHistory()
		if job.Message != "" {
			r.Log(job.Message)
		}
		return nil
	})
}

// Finish releases the pipeline, clears any cancellation request and logs msg.
// It reports whether another run was requested while the job was busy; the
// flag is left set for the caller to consume.
func Finish(ctx context.Context, s Store, msg string) (pending bool, err error) {
	err = s.Update(ctx, func(r *Record) error {
		r.Busy = false
		r.CancellationRequested = false
		if msg != "" {
			r.Log(msg)
		}
		pending = r.RequestPending
		return nil
	})
	return pending, err
}

// RequestCancel sets the cancellation flag if a job is running. It reports
// false when the pipeline is idle.
func RequestCancel(ctx context.Context, s Store) (bool, error) {
	var accepted bool
	err := s.Update(ctx, func(r *Record) error {
		if !r.Busy {
			return nil
		}
		r.CancellationRequested = true
		r.Log("Pipeline cancellation requested by user")
		accepted = true
		return nil
	})
	return accepted, err
}

// RequestPending flags that processing should run again once the current
// job ends. It reports whether the pipeline was busy; when idle nothing is
// changed.
func RequestPending(ctx context.Context, s Store) (bool, error) {
	var busy bool
	err := s.Update(ctx, func(r *Record) error {
		busy = r.Busy
		if busy {
			r.RequestPending = true
		}
		return nil
	})
	return busy, err
}

// Cancelled reads the cancellation flag.
func Cancelled(ctx context.Context, s Store) (bool, error) {
	var c bool
	err := s.Update(ctx, func(r *Record) error {
		c = r.CancellationRequested
		return nil
	})
	return c, err
}

// Log appends msg as the latest message.
func Log(ctx context.Context, s Store, msg string) error {
	return s.Update(ctx, func(r *Record) error {
		r.Log(msg)
		return nil
	})
}
