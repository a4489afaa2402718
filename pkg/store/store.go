// Package store is a small embedded document store: named collections of
// JSON documents keyed by string id, held in memory and persisted per
// collection as a zstd-compressed snapshot file. Multi-collection updates
// run atomically under a store-level writer lock, which is the concurrency
// substrate the share node's commit path relies on.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const snapshotSuffix = ".json.zst"

// Config holds store configuration
type Config struct {
	DataDir string // Directory for collection snapshot files
}

// Store manages a set of collections backed by one data directory.
type Store struct {
	dir         string
	mu          sync.RWMutex
	collections map[string]*Collection
	enc         *zstd.Encoder
	dec         *zstd.Decoder
	closed      bool
}

// Collection is a named set of JSON documents keyed by id. All access goes
// through the owning store's lock.
type Collection struct {
	name  string
	store *Store
	docs  map[string]json.RawMessage
}

// Open opens (or creates) a store rooted at cfg.DataDir and loads every
// collection snapshot found there.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil || cfg.DataDir == "" {
		return nil, fmt.Errorf("store: data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{
		dir:         cfg.DataDir,
		collections: make(map[string]*Collection),
		enc:         enc,
		dec:         dec,
	}

	entries, err := os.ReadDir(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), snapshotSuffix)
		coll, err := s.loadCollection(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load collection %s: %w", name, err)
		}
		s.collections[name] = coll
	}

	return s, nil
}

// loadCollection reads one snapshot file into memory.
func (s *Store) loadCollection(name string) (*Collection, error) {
	compressed, err := os.ReadFile(filepath.Join(s.dir, name+snapshotSuffix))
	if err != nil {
		return nil, err
	}
	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	docs := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
	}
	return &Collection{name: name, store: s, docs: docs}, nil
}

// Collection returns the named collection, creating it if needed.
func (s *Store) Collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coll, ok := s.collections[name]; ok {
		return coll
	}
	coll := &Collection{name: name, store: s, docs: make(map[string]json.RawMessage)}
	s.collections[name] = coll
	return coll
}

// ListCollections returns the names of all collections, sorted.
func (s *Store) ListCollections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close flushes nothing (writes are persisted eagerly) and marks the store
// closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.enc.Close()
	s.dec.Close()
	return nil
}

// writeSnapshot encodes a document map and writes it to a temp file next to
// the collection's snapshot, returning the temp path. Caller must hold the
// store lock and rename the file into place.
func (s *Store) writeSnapshot(name string, docs map[string]json.RawMessage) (string, error) {
	data, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	compressed := s.enc.EncodeAll(data, nil)

	tmp := filepath.Join(s.dir, name+snapshotSuffix+".tmp")
	if err := os.WriteFile(tmp, compressed, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return tmp, nil
}

// Update runs fn as one atomic transaction. Writes are buffered in the
// transaction and, only if fn returns nil, persisted and then applied to
// memory. Reads inside fn observe the buffered writes.
func (s *Store) Update(fn func(tx *Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	tx := &Txn{store: s, pending: make(map[string]map[string]*json.RawMessage)}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.apply()
}

// View runs fn with a read lock held.
func (s *Store) View(fn func(tx *Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return fn(&Txn{store: s, readOnly: true})
}

// Txn is a buffered transaction over one store. A nil pending entry marks a
// deletion.
type Txn struct {
	store    *Store
	readOnly bool
	pending  map[string]map[string]*json.RawMessage
}

// collection resolves a collection without taking the store lock (the Txn
// already holds it). Read-only transactions hold only the read lock, so a
// missing collection resolves to an empty view instead of being registered.
func (tx *Txn) collection(name string) *Collection {
	if coll, ok := tx.store.collections[name]; ok {
		return coll
	}
	if tx.readOnly {
		return &Collection{name: name, store: tx.store}
	}
	coll := &Collection{name: name, store: tx.store, docs: make(map[string]json.RawMessage)}
	tx.store.collections[name] = coll
	return coll
}

// lookup returns the effective document bytes for (collection, id), honoring
// buffered writes.
func (tx *Txn) lookup(name, id string) (json.RawMessage, bool) {
	if writes, ok := tx.pending[name]; ok {
		if raw, ok := writes[id]; ok {
			if raw == nil {
				return nil, false
			}
			return *raw, true
		}
	}
	raw, ok := tx.collection(name).docs[id]
	return raw, ok
}

// Get decodes the document with the given id into out.
func (tx *Txn) Get(collection, id string, out interface{}) error {
	raw, ok := tx.lookup(collection, id)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

// Exists reports whether a document with the given id exists.
func (tx *Txn) Exists(collection, id string) bool {
	_, ok := tx.lookup(collection, id)
	return ok
}

// Insert buffers a new document; the id must not exist.
func (tx *Txn) Insert(collection, id string, doc interface{}) error {
	if tx.readOnly {
		return fmt.Errorf("insert in read-only transaction")
	}
	if tx.Exists(collection, id) {
		return ErrDuplicateID
	}
	return tx.put(collection, id, doc)
}

// Put buffers an upsert of a document.
func (tx *Txn) Put(collection, id string, doc interface{}) error {
	if tx.readOnly {
		return fmt.Errorf("put in read-only transaction")
	}
	return tx.put(collection, id, doc)
}

func (tx *Txn) put(collection, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	msg := json.RawMessage(raw)
	if tx.pending[collection] == nil {
		tx.pending[collection] = make(map[string]*json.RawMessage)
	}
	tx.pending[collection][id] = &msg
	return nil
}

// Delete buffers a deletion; deleting a missing id returns ErrNotFound.
func (tx *Txn) Delete(collection, id string) error {
	if tx.readOnly {
		return fmt.Errorf("delete in read-only transaction")
	}
	if !tx.Exists(collection, id) {
		return ErrNotFound
	}
	if tx.pending[collection] == nil {
		tx.pending[collection] = make(map[string]*json.RawMessage)
	}
	tx.pending[collection][id] = nil
	return nil
}

// ForEach visits every document in a collection in sorted id order,
// including buffered writes.
func (tx *Txn) ForEach(collection string, fn func(id string, raw json.RawMessage) error) error {
	coll := tx.collection(collection)
	writes := tx.pending[collection]

	ids := make([]string, 0, len(coll.docs)+len(writes))
	seen := make(map[string]bool, len(coll.docs)+len(writes))
	for id := range coll.docs {
		ids = append(ids, id)
		seen[id] = true
	}
	for id, raw := range writes {
		if raw != nil && !seen[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		raw, ok := tx.lookup(collection, id)
		if !ok {
			continue // deleted in this transaction
		}
		if err := fn(id, raw); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the effective number of documents in a collection.
func (tx *Txn) Count(collection string) int {
	n := 0
	tx.ForEach(collection, func(string, json.RawMessage) error {
		n++
		return nil
	})
	return n
}

// apply builds the post-transaction document map for every touched
// collection, writes all snapshots to temp files, then renames them into
// place and installs the new maps. Neither memory nor disk changes until
// every snapshot has been written. Caller holds the store lock.
func (tx *Txn) apply() error {
	type staged struct {
		name string
		docs map[string]json.RawMessage
		tmp  string
	}

	stages := make([]staged, 0, len(tx.pending))
	for name, writes := range tx.pending {
		var base map[string]json.RawMessage
		if coll, ok := tx.store.collections[name]; ok {
			base = coll.docs
		}
		docs := make(map[string]json.RawMessage, len(base)+len(writes))
		for id, raw := range base {
			docs[id] = raw
		}
		for id, raw := range writes {
			if raw == nil {
				delete(docs, id)
			} else {
				docs[id] = *raw
			}
		}
		stages = append(stages, staged{name: name, docs: docs})
	}

	for i := range stages {
		tmp, err := tx.store.writeSnapshot(stages[i].name, stages[i].docs)
		if err != nil {
			for j := 0; j < i; j++ {
				os.Remove(stages[j].tmp)
			}
			return err
		}
		stages[i].tmp = tmp
	}

	for _, st := range stages {
		final := filepath.Join(tx.store.dir, st.name+snapshotSuffix)
		if err := os.Rename(st.tmp, final); err != nil {
			return fmt.Errorf("failed to replace snapshot: %w", err)
		}
		tx.collection(st.name).docs = st.docs
	}
	return nil
}
