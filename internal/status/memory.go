package status

import (
	"context"
	"sync"
)

// MemoryStore keeps the record in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	rec     Record
	history []string
}

// NewMemoryStore returns an idle store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Update(ctx context.Context, fn func(*Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rec
	r.resetHistory = false
	r.appended = nil
	if err := fn(&r); err != nil {
		return err
	}
	if r.resetHistory {
		m.history = nil
	}
	m.history = append(m.history, r.appended...)
	r.appended = nil
	m.rec = r
	return nil
}

func (m *MemoryStore) Snapshot(ctx context.Context) (View, error) {
	if err := ctx.Err(); err != nil {
		return View{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		Busy:                  m.rec.Busy,
		JobName:               m.rec.JobName,
		JobStart:              m.rec.JobStart,
		Docs:                  m.rec.Docs,
		Batchs:                m.rec.Batchs,
		CurBatch:              m.rec.CurBatch,
		RequestPending:        m.rec.RequestPending,
		CancellationRequested: m.rec.CancellationRequested,
		Autoscanned:           m.rec.Autoscanned,
		LatestMessage:         m.rec.LatestMessage,
		HistoryMessages:       truncate(m.history),
	}, nil
}

// Registry hands out one Store per workspace, created on first use.
type Registry struct {
	mu     sync.Mutex
	stores map[string]Store
	newFn  func(workspace string) (Store, error)
}

// NewRegistry returns a Registry that builds stores with newFn. A nil newFn
// builds memory stores.
func NewRegistry(newFn func(workspace string) (Store, error)) *Registry {
	if newFn == nil {
		newFn = func(string) (Store, error) { return NewMemoryStore(), nil }
	}
	return &Registry{stores: make(map[string]Store), newFn: newFn}
}

// Workspace returns the store for name, creating it if needed.
func (r *Registry) Workspace(name string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[name]; ok {
		return s, nil
	}
	s, err := r.newFn(name)
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	return s, nil
}
