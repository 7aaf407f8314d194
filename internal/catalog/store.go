// Package catalog persists the model catalog: one durable record per model
// name, with serializable per-key read-modify-write updates. BadgerDB backs
// the store; transactions give the upsert-or-nothing guarantee so readers
// never observe a torn record.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

var keyPrefix = []byte("model/")

// ErrNotFound indicates the named model has no catalog entry.
var ErrNotFound = errors.New("model not found in catalog")

// IsNotFound reports whether err indicates a missing catalog entry.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// upsertRetries bounds the conflict retry loop; conflicts only occur when two
// writers race the same key, so a handful of attempts is plenty.
const upsertRetries = 16

// Options configures a Store.
type Options struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is set.
	Dir string
	// InMemory runs the store without disk persistence (tests).
	InMemory bool
	Logger   zerolog.Logger
}

// Store is the durable model catalog.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (or creates) the catalog database.
func Open(opts Options) (*Store, error) {
	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bo = badger.DefaultOptions(opts.Dir)
	}
	// Badger's own logger is chatty at INFO; route everything through zerolog
	// at debug level instead.
	bo = bo.WithLogger(badgerLogger{opts.Logger})
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	return &Store{db: db, log: opts.Logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func key(name string) []byte { return append(append([]byte{}, keyPrefix...), name...) }

// Get returns the entry for name, or ErrNotFound.
func (s *Store) Get(name string) (Entry, error) {
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, err
}

// List returns all entries, unordered.
func (s *Store) List() ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Upsert applies mutate to the current entry for name (or a fresh default
// carrying the name) and persists the result atomically. Concurrent writers
// to the same key serialize via transaction conflict retry, so no update is
// ever lost. The committed entry is returned.
func (s *Store) Upsert(name string, mutate func(Entry) Entry) (Entry, error) {
	var committed Entry
	for attempt := 0; attempt < upsertRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			cur := Entry{Name: name, Status: StatusNotDownloaded}
			item, err := txn.Get(key(name))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				// fresh default
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &cur)
				}); err != nil {
					return err
				}
			}
			next := mutate(cur)
			next.Name = name
			buf, err := json.Marshal(next)
			if err != nil {
				return err
			}
			committed = next
			return txn.Set(key(name), buf)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return committed, err
	}
	return Entry{}, fmt.Errorf("upsert %s: too many transaction conflicts", name)
}

// Delete removes the entry for name. Deleting a missing entry is not an error.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
}

// EnsureSeeded inserts every seed entry that does not already exist.
// Existing entries are left untouched so disk state survives restarts.
func (s *Store) EnsureSeeded(seed []Entry) error {
	for _, want := range seed {
		if _, err := s.Get(want.Name); err == nil {
			continue
		} else if !IsNotFound(err) {
			return err
		}
		if _, err := s.Upsert(want.Name, func(cur Entry) Entry {
			if cur.RepoID != "" {
				return cur // raced another seeder
			}
			return want
		}); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct{ log zerolog.Logger }

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.log.Error().Msgf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.log.Warn().Msgf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.log.Debug().Msgf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.log.Debug().Msgf(format, args...) }
