package store

import "encoding/json"

// Single-operation wrappers around Update/View for callers that do not need
// multi-document atomicity.

// Get decodes one document into out.
func (s *Store) Get(collection, id string, out interface{}) error {
	return s.View(func(tx *Txn) error {
		return tx.Get(collection, id, out)
	})
}

// Exists reports whether the id exists in the collection.
func (s *Store) Exists(collection, id string) bool {
	found := false
	s.View(func(tx *Txn) error {
		found = tx.Exists(collection, id)
		return nil
	})
	return found
}

// Insert adds a new document.
func (s *Store) Insert(collection, id string, doc interface{}) error {
	return s.Update(func(tx *Txn) error {
		return tx.Insert(collection, id, doc)
	})
}

// Put upserts a document.
func (s *Store) Put(collection, id string, doc interface{}) error {
	return s.Update(func(tx *Txn) error {
		return tx.Put(collection, id, doc)
	})
}

// Delete removes a document.
func (s *Store) Delete(collection, id string) error {
	return s.Update(func(tx *Txn) error {
		return tx.Delete(collection, id)
	})
}

// ForEach visits every document in sorted id order.
func (s *Store) ForEach(collection string, fn func(id string, raw json.RawMessage) error) error {
	return s.View(func(tx *Txn) error {
		return tx.ForEach(collection, fn)
	})
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	n := 0
	s.View(func(tx *Txn) error {
		n = tx.Count(collection)
		return nil
	})
	return n
}
