package memtable

import (
	"bytes"
	"sync"

	"github.com/INLOpen/skiplist"
)

// Iterator walks individual versions of a Memtable in (Key ASC, Timestamp
// DESC) order and can move in both directions.
// It is not safe for concurrent use by multiple goroutines.
type Iterator struct {
	mu    *sync.RWMutex // The lock from the parent memtable. MUST be released by Close().
	data  *skiplist.SkipList[*VersionKey, *Entry]
	lower []byte
	upper []byte

	// fwd is a forward skiplist iterator positioned on cur, or nil when the
	// last move was backwards and it has to be re-seeked before Next.
	fwd   *skiplist.Iterator[*VersionKey, *Entry]
	cur   *VersionKey
	entry *Entry
	err   error
}

// SeekGE positions the iterator on the first version >= (key, ts), that is the
// newest version of key with a timestamp <= ts, or the first version of the
// next key.
func (it *Iterator) SeekGE(key []byte, ts uint64) bool {
	if it.data == nil {
		return it.invalidate()
	}
	target := &VersionKey{Key: key, Timestamp: ts}
	if it.lower != nil && bytes.Compare(key, it.lower) < 0 {
		target = &VersionKey{Key: it.lower, Timestamp: ^uint64(0)}
	}
	fwd := it.data.NewIterator()
	if !fwd.Seek(target) {
		return it.invalidate()
	}
	return it.setForward(fwd)
}

// First positions the iterator on the first version within the bounds.
func (it *Iterator) First() bool {
	return it.SeekGE(it.lower, ^uint64(0))
}

// SeekLE positions the iterator on the last version <= (key, ts), that is the
// oldest version of key with a timestamp >= ts, or the last version of an
// earlier key.
func (it *Iterator) SeekLE(key []byte, ts uint64) bool {
	if it.data == nil {
		return it.invalidate()
	}
	if it.upper != nil && bytes.Compare(key, it.upper) >= 0 {
		return it.setBackward(it.floor(&VersionKey{Key: it.upper, Timestamp: ^uint64(0)}, true))
	}
	return it.setBackward(it.floor(&VersionKey{Key: key, Timestamp: ts}, false))
}

// Next moves to the following version.
func (it *Iterator) Next() bool {
	if it.cur == nil {
		return false
	}
	if it.fwd == nil {
		fwd := it.data.NewIterator()
		if !fwd.Seek(it.cur) {
			return it.invalidate()
		}
		it.fwd = fwd
	}
	if !it.fwd.Next() {
		return it.invalidate()
	}
	return it.setForward(it.fwd)
}

// Prev moves to the preceding version.
func (it *Iterator) Prev() bool {
	if it.cur == nil {
		return false
	}
	return it.setBackward(it.floor(it.cur, true))
}

// floor finds the greatest node below target (strictly when strict is set).
// The reverse iterator gets close in one seek; the forward walk afterwards
// only moves when the reverse seek stopped short.
func (it *Iterator) floor(target *VersionKey, strict bool) (*VersionKey, *Entry) {
	below := func(k *VersionKey) bool {
		c := comparator(k, target)
		if strict {
			return c < 0
		}
		return c <= 0
	}

	var candKey *VersionKey
	var candEntry *Entry

	rev := it.data.NewIterator(skiplist.WithReverse[*VersionKey, *Entry]())
	ok := rev.Seek(target)
	for ok && !below(rev.Key()) {
		ok = rev.Next()
	}
	if ok {
		candKey, candEntry = rev.Key(), rev.Value()
	}

	fwd := it.data.NewIterator()
	if candKey != nil {
		ok = fwd.Seek(candKey) && fwd.Next()
	} else {
		ok = fwd.Next()
	}
	for ok && below(fwd.Key()) {
		candKey, candEntry = fwd.Key(), fwd.Value()
		ok = fwd.Next()
	}
	return candKey, candEntry
}

func (it *Iterator) setForward(fwd *skiplist.Iterator[*VersionKey, *Entry]) bool {
	k := fwd.Key()
	if it.upper != nil && bytes.Compare(k.Key, it.upper) >= 0 {
		return it.invalidate()
	}
	it.fwd = fwd
	it.cur = k
	it.entry = fwd.Value()
	return true
}

func (it *Iterator) setBackward(k *VersionKey, e *Entry) bool {
	if k == nil {
		return it.invalidate()
	}
	if it.lower != nil && bytes.Compare(k.Key, it.lower) < 0 {
		return it.invalidate()
	}
	it.fwd = nil
	it.cur = k
	it.entry = e
	return true
}

func (it *Iterator) invalidate() bool {
	it.fwd = nil
	it.cur = nil
	it.entry = nil
	return false
}

// Valid reports whether the iterator is positioned on a version.
func (it *Iterator) Valid() bool {
	return it.cur != nil
}

// Key returns the user key of the current version.
func (it *Iterator) Key() []byte {
	if it.cur == nil {
		return nil
	}
	return it.cur.Key
}

// Timestamp returns the timestamp of the current version.
func (it *Iterator) Timestamp() uint64 {
	if it.cur == nil {
		return 0
	}
	return it.cur.Timestamp
}

// Value returns the value of the current version.
func (it *Iterator) Value() []byte {
	if it.entry == nil {
		return nil
	}
	return it.entry.Value
}

// Error returns the error, if any, that prevented iteration.
func (it *Iterator) Error() error {
	return it.err
}

// Close releases the iterator's resources, including the read lock on the memtable.
// It is safe to call Close multiple times.
func (it *Iterator) Close() error {
	if it.mu == nil { // Prevent multiple unlocks
		return nil
	}
	it.invalidate()
	it.data = nil
	it.mu.RUnlock()
	it.mu = nil
	return nil
}
