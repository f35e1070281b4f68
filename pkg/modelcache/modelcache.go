// Package modelcache provides the two pieces of process-wide mutable
// state the coordination core shares across requests (spec §9 "Global
// state" / §5 "Model caches are process-wide and keyed by model name;
// loads are serialized per key"):
//
//   - an in-memory, per-model-name singleton for loaded Vectorisers,
//     with concurrent loads of the same model name serialized so an
//     expensive model load never runs twice concurrently;
//   - a badger-backed persistent store for Application Package Manager
//     deployment-session metadata, so an in-flight session survives a
//     process restart for inspection (the session itself still lives
//     on the remote config cluster; this is bookkeeping, not the
//     session).
//
// Adapted from the teacher's BadgerEngine: the same db.Update/db.View
// transaction shape and JSON value encoding, repurposed from node/edge
// storage to session-record storage.
package modelcache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/marqocore/vespacore/pkg/apperr"
	"github.com/marqocore/vespacore/pkg/vectoriser"
)

var (
	prefixSession = byte(0x01) // session:sessionID -> JSON(SessionRecord)
)

// SessionRecord is the persisted bookkeeping for one Application
// Package Manager deployment session (spec §4.2).
type SessionRecord struct {
	SessionID      string
	IndexNames     []string
	ContentBaseURL string
	PrepareURL     string
	State          string // "open", "prepared", "activated", "aborted"
	CreatedAt      time.Time
}

func sessionKey(id string) []byte {
	return append([]byte{prefixSession}, []byte(id)...)
}

// Cache is the process-wide store for loaded models and session
// bookkeeping. Safe for concurrent use.
type Cache struct {
	db *badger.DB

	mu      sync.Mutex
	loading map[string]*modelLoad
	models  map[string]vectoriser.Vectoriser
}

type modelLoad struct {
	wg  sync.WaitGroup
	v   vectoriser.Vectoriser
	err error
}

// Options configures the underlying badger store.
type Options struct {
	// DataDir is the directory for persisted session records. Empty
	// means in-memory only (suitable for tests and single-shot CLI
	// invocations that never need to recover session state).
	DataDir string
	InMemory bool
}

func Open(opts Options) (*Cache, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory || opts.DataDir == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGeneric, "open model cache store", err)
	}
	return &Cache{
		db:      db,
		loading: make(map[string]*modelLoad),
		models:  make(map[string]vectoriser.Vectoriser),
	}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// LoadModel returns the cached Vectoriser for name, calling loader
// exactly once per name even under concurrent callers: a caller that
// arrives while a load is in flight waits for it rather than starting
// a second load (spec §5 "loads are serialized per key").
func (c *Cache) LoadModel(name string, loader func() (vectoriser.Vectoriser, error)) (vectoriser.Vectoriser, error) {
	c.mu.Lock()
	if v, ok := c.models[name]; ok {
		c.mu.Unlock()
		return v, nil
	}
	if inFlight, ok := c.loading[name]; ok {
		c.mu.Unlock()
		inFlight.wg.Wait()
		return inFlight.v, inFlight.err
	}

	load := &modelLoad{}
	load.wg.Add(1)
	c.loading[name] = load
	c.mu.Unlock()

	load.v, load.err = loader()

	c.mu.Lock()
	delete(c.loading, name)
	if load.err == nil {
		c.models[name] = load.v
	}
	c.mu.Unlock()

	load.wg.Done()
	return load.v, load.err
}

// Evict drops a model from the cache, forcing the next LoadModel call
// to reload it (used when a model's configuration changes).
func (c *Cache) Evict(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.models, name)
}

// PutSession persists (or overwrites) a session record.
func (c *Cache) PutSession(rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.KindGeneric, "encode session record", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(rec.SessionID), data)
	})
}

// GetSession looks up a session record by id.
func (c *Cache) GetSession(id string) (SessionRecord, error) {
	var rec SessionRecord
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err == badger.ErrKeyNotFound {
			return apperr.Newf(apperr.KindGeneric, "session %q not found", id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// DeleteSession removes a session record, typically once its deploy
// has activated or aborted.
func (c *Cache) DeleteSession(id string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
}

// ListSessions returns every persisted session record, for operator
// inspection and crash-recovery cleanup.
func (c *Cache) ListSessions() ([]SessionRecord, error) {
	var out []SessionRecord
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{prefixSession}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec SessionRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode session record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
