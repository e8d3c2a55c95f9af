package extract

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/panjf2000/ants/v2"
)

// ErrPoolClosed is returned when work is submitted after Release.
var ErrPoolClosed = errors.New("extraction pool closed")

// Pool runs blocking extraction work on a fixed number of goroutines.
// Submissions block while all workers are busy.
type Pool struct {
	pool *ants.Pool
}

// NewPool creates a Pool with size workers (minimum 1).
func NewPool(size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p}, nil
}

type result struct {
	text string
	err  error
}

// Do runs fn on a pool worker and waits for its result or for ctx to end.
// A panic inside fn is returned as an error.
func (p *Pool) Do(ctx context.Context, fn func() (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := make(chan result, 1)
	err := p.pool.Submit(func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("extractor panic: %v\n%s", rec, debug.Stack())}
			}
		}()
		text, err := fn()
		ch <- result{text: text, err: err}
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return "", ErrPoolClosed
	}
	if err != nil {
		return "", fmt.Errorf("submitting extraction: %w", err)
	}

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Release stops accepting work.
func (p *Pool) Release() {
	p.pool.Release()
}
