package registry

import (
	"sync"
	"time"
)

// Buffer is the single-slot fingerprint capture buffer shared between the
// scanner endpoint and registration. Last write wins; readers and writers
// both take the mutex.
type Buffer struct {
	mu        sync.Mutex
	value     string
	updatedAt time.Time
}

// NewBuffer creates an empty capture buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Set stores a scanned fingerprint, replacing any previous one.
func (b *Buffer) Set(fingerprint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = fingerprint
	b.updatedAt = time.Now()
}

// Get returns the buffered fingerprint (empty if none) and when it was set.
func (b *Buffer) Get() (string, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.updatedAt
}

// Clear empties the slot, bumping the update time.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = ""
	b.updatedAt = time.Now()
}
