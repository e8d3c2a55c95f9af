// Package kvstore provides namespaced JSON key/value storage on BadgerDB.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Store wraps a BadgerDB instance shared by several namespaces.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

// Info from badger is chatty; it is logged at debug.
func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens a BadgerDB database in dir, creating it if needed. With
// inMemory set, dir is ignored and nothing touches disk.
func Open(dir string, inMemory bool) (*Store, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating kv directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}

	logger := slog.Default().With("component", "badger")
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction. Write transactions are committed when fn
// succeeds.
func (s *Store) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := s.db.NewTransaction(isWrite)
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	if isWrite {
		return tx.Commit()
	}
	return nil
}

// Namespace returns the key space called name.
func (s *Store) Namespace(name string) *Namespace {
	return &Namespace{store: s, name: name, prefix: []byte(name + ":")}
}

// Namespace is a prefix-isolated view of a Store.
type Namespace struct {
	store  *Store
	name   string
	prefix []byte
}

func (n *Namespace) Name() string { return n.name }

func (n *Namespace) key(k string) []byte {
	out := make([]byte, 0, len(n.prefix)+len(k))
	out = append(out, n.prefix...)
	return append(out, k...)
}

// Put stores value as JSON under key.
func (n *Namespace) Put(ctx context.Context, key string, value any) error {
	return n.PutMany(ctx, map[string]any{key: value})
}

// PutMany stores all entries in one transaction.
func (n *Namespace) PutMany(ctx context.Context, entries map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.store.withTx(func(tx *badger.Txn) error {
		for k, v := range entries {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encoding %s/%s: %w", n.name, k, err)
			}
			if err := tx.Set(n.key(k), data); err != nil {
				return fmt.Errorf("writing %s/%s: %w", n.name, k, err)
			}
		}
		return nil
	}, true)
}

// Get decodes the value under key into dst. It reports false when the key
// is absent.
func (n *Namespace) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := n.store.withTx(func(tx *badger.Txn) error {
		item, err := tx.Get(n.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	}, false)
	if err != nil {
		return false, fmt.Errorf("reading %s/%s: %w", n.name, key, err)
	}
	return found, nil
}

// Has reports whether key exists.
func (n *Namespace) Has(ctx context.Context, key string) (bool, error) {
	var raw json.RawMessage
	return n.Get(ctx, key, &raw)
}

// Keys lists keys starting with keyPrefix, without the namespace prefix.
func (n *Namespace) Keys(ctx context.Context, keyPrefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := n.store.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = n.key(keyPrefix)
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(n.prefix):]))
		}
		return nil
	}, false)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", n.name, err)
	}
	return keys, nil
}

// Delete removes keys. Missing keys are ignored.
func (n *Namespace) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := n.store.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(n.key(k)); err != nil {
			return fmt.Errorf("deleting %s/%s: %w", n.name, k, err)
		}
	}
	return wb.Flush()
}

// DeletePrefix removes every key starting with keyPrefix and returns how
// many were removed.
func (n *Namespace) DeletePrefix(ctx context.Context, keyPrefix string) (int, error) {
	keys, err := n.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := n.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Drop removes the whole namespace.
func (n *Namespace) Drop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.store.db.DropPrefix(n.prefix); err != nil {
		return fmt.Errorf("dropping %s: %w", n.name, err)
	}
	n.store.logger.Debug("namespace dropped", "namespace", n.name)
	return nil
}
