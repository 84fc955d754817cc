package memtable

import (
	"bytes"
)

// VersionKey orders entries in the memtable. Keys are sorted first by the
// user key, then by Timestamp in descending order, so the newest version of a
// key is the first one reached by a forward seek.
type VersionKey struct {
	Key       []byte
	Timestamp uint64
}

// Entry is a single stored version.
type Entry struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
}

// size returns the estimated memory size of the entry.
func (e *Entry) size() int64 {
	return int64(len(e.Key) + len(e.Value) + 8)
}

// comparator defines the sort order of the skip list:
//  1. Key ascending, lexicographic
//  2. Timestamp descending (newer versions first)
func comparator(a, b *VersionKey) int {
	cmp := bytes.Compare(a.Key, b.Key)
	if cmp != 0 {
		return cmp
	}
	if a.Timestamp > b.Timestamp {
		return -1
	}
	if a.Timestamp < b.Timestamp {
		return 1
	}
	return 0
}
