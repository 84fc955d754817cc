package memtable

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/INLOpen/skiplist"
)

// ErrClosed is returned by operations on a memtable after Close.
var ErrClosed = errors.New("memtable: closed")

// Memtable is an in-memory, sorted, multi-version key-value structure. Every
// Put with a distinct (key, timestamp) pair adds a new version; versions of a
// key are ordered newest first, so a timestamp-bounded read is a single seek.
type Memtable struct {
	mu           sync.RWMutex
	data         *skiplist.SkipList[*VersionKey, *Entry]
	sizeBytes    int64 // Estimated size of data in bytes
	threshold    int64 // Size at which the memtable is considered full
	CreationTime time.Time
}

// New creates an empty Memtable. threshold is the size in bytes reported as
// full by IsFull; zero or less disables the check.
func New(threshold int64) *Memtable {
	return &Memtable{
		data:         skiplist.NewWithComparator[*VersionKey, *Entry](comparator),
		threshold:    threshold,
		CreationTime: time.Now(),
	}
}

// Put stores value as the version of key at timestamp ts. key and value are
// copied. Writing the same (key, ts) again replaces that version in place.
func (m *Memtable) Put(key, value []byte, ts uint64) error {
	k := bytes.Clone(key)
	if k == nil {
		k = []byte{}
	}
	entry := &Entry{Key: k, Value: bytes.Clone(value), Timestamp: ts}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return ErrClosed
	}

	vk := &VersionKey{Key: k, Timestamp: ts}
	// Insert overwrites an existing node's value in place, so the replaced
	// entry's size must be read before inserting.
	if node, ok := m.data.Seek(vk); ok && comparator(node.Key(), vk) == 0 {
		m.sizeBytes -= node.Value().size()
	}
	m.data.Insert(vk, entry)
	m.sizeBytes += entry.size()
	return nil
}

// Get returns the newest version of key whose timestamp is <= ts. The returned
// value aliases memtable memory and must not be modified.
func (m *Memtable) Get(key []byte, ts uint64) (value []byte, foundTS uint64, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, 0, false
	}

	// (key, ts) sorts before every older version of key and after every newer
	// one, so the first node >= it is the answer when its key matches.
	searchKey := searchKeys.Get()
	searchKey.Key = key
	searchKey.Timestamp = ts
	defer searchKeys.Put(searchKey)

	node, ok := m.data.Seek(searchKey)
	if !ok {
		return nil, 0, false
	}
	if !bytes.Equal(node.Key().Key, key) {
		return nil, 0, false
	}
	entry := node.Value()
	return entry.Value, entry.Timestamp, true
}

// GetLatest returns the newest version of key regardless of timestamp.
func (m *Memtable) GetLatest(key []byte) (value []byte, foundTS uint64, found bool) {
	return m.Get(key, ^uint64(0))
}

// Age returns how long ago the memtable was created.
func (m *Memtable) Age() time.Duration {
	return time.Since(m.CreationTime)
}

// Size returns the estimated size of the data in the memtable in bytes.
func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// IsFull checks if the memtable has reached its size threshold.
func (m *Memtable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threshold > 0 && m.sizeBytes >= m.threshold
}

// Len returns the number of versions in the memtable.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return 0
	}
	return m.data.Len()
}

// NewIterator returns an iterator over every version whose key lies in
// [lower, upper). A nil bound is unbounded.
// The iterator holds a read lock on the memtable for its lifetime, so the
// caller MUST call Close() before writing from the same goroutine.
func (m *Memtable) NewIterator(lower, upper []byte) *Iterator {
	m.mu.RLock()
	it := &Iterator{
		mu:    &m.mu,
		data:  m.data,
		lower: lower,
		upper: upper,
	}
	if m.data == nil {
		it.err = ErrClosed
	}
	return it
}

// Close drops the contents of the memtable. Later writes fail with ErrClosed
// and later reads find nothing. It is safe to call Close multiple times.
func (m *Memtable) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.sizeBytes = 0
}
