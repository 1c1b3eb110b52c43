// Package kvdb adapts a cometbft-db key-value store to a small
// Get/Set/Delete, iterator, and batch interface so higher layers never
// import the underlying driver directly.
package kvdb

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KVAdapter wraps a cometbft-db dbm.DB behind a narrow Get/Set/Delete,
// Iterator, NewBatch, and Close surface.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get returns the value for key, or nil if the key is not present.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	v, err := a.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Set durably writes value for key.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Delete durably removes key.
func (a *KVAdapter) Delete(key []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.DeleteSync(key)
}

// Iterator returns an iterator over the half-open key range [start, end).
// A nil start or end means unbounded in that direction.
func (a *KVAdapter) Iterator(start, end []byte) (dbm.Iterator, error) {
	return a.db.Iterator(start, end)
}

// NewBatch returns a write batch for atomic multi-key updates.
func (a *KVAdapter) NewBatch() dbm.Batch {
	return a.db.NewBatch()
}

// Close closes the underlying database.
func (a *KVAdapter) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
