package store

import (
	"bytes"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/memtable"
)

// memtableStore is an in-memory Store. Its (key ASC, timestamp DESC) ordering
// is the native timestamp channel for udt; embedded strategies store every
// key at timestamp zero. Nothing is persisted, so Reset has no effect.
type memtableStore struct {
	mt       *memtable.Memtable
	eo       EngineOptions
	logger   *slog.Logger
	warnFull atomic.Bool
	closed   atomic.Bool
}

func openMemtable(eo EngineOptions, logger *slog.Logger) (*memtableStore, error) {
	return &memtableStore{
		mt:     memtable.New(int64(eo.MemTableSize)),
		eo:     eo,
		logger: logger,
	}, nil
}

func (s *memtableStore) udt() bool {
	return s.eo.TimestampSize > 0
}

func (s *memtableStore) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.udt() {
		if err := checkUserKey(s.eo, "get", key); err != nil {
			return nil, err
		}
	}
	val, _, found := s.mt.GetLatest(key)
	if !found {
		return nil, ErrNotFound
	}
	return bytes.Clone(val), nil
}

func (s *memtableStore) GetAt(key []byte, ts core.Timestamp) ([]byte, error) {
	if !s.udt() {
		return nil, unsupported(s.eo.Strategy, "timestamped get")
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkUserKey(s.eo, "get", key); err != nil {
		return nil, err
	}
	val, _, found := s.mt.Get(key, ts)
	if !found {
		return nil, ErrNotFound
	}
	return bytes.Clone(val), nil
}

func (s *memtableStore) Put(key, value []byte) error {
	if s.udt() {
		return unsupported(s.eo.Strategy, "put without timestamp")
	}
	return s.put(key, 0, value)
}

func (s *memtableStore) PutAt(key []byte, ts core.Timestamp, value []byte) error {
	if !s.udt() {
		return unsupported(s.eo.Strategy, "timestamped put")
	}
	if err := checkUserKey(s.eo, "put", key); err != nil {
		return err
	}
	return s.put(key, ts, value)
}

func (s *memtableStore) put(key []byte, ts core.Timestamp, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.mt.Put(key, value, ts); err != nil {
		if errors.Is(err, memtable.ErrClosed) {
			return ErrClosed
		}
		return &core.StoreIoError{Op: "put", Err: err}
	}
	if s.mt.IsFull() && s.warnFull.CompareAndSwap(false, true) {
		s.logger.Warn("In-memory store exceeded configured memtable size; it keeps growing",
			"size_bytes", s.mt.Size(), "limit_bytes", s.eo.MemTableSize)
	}
	return nil
}

func (s *memtableStore) NewIterator(opts IterOptions) (Iterator, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var lower, upper []byte
	if opts.Prefix != nil {
		lower = opts.Prefix
		upper = prefixEnd(opts.Prefix)
	}
	return &memtableIterator{it: s.mt.NewIterator(lower, upper), udt: s.udt()}, nil
}

func (s *memtableStore) Partitions() []string {
	return []string{DefaultPartition}
}

func (s *memtableStore) Strategy() core.Strategy {
	return s.eo.Strategy
}

func (s *memtableStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	hits, misses := memtable.SearchKeyPoolMetrics()
	s.logger.Debug("Closing store",
		"entries", s.mt.Len(),
		"size_bytes", s.mt.Size(),
		"age", s.mt.Age(),
		"search_key_pool_hits", hits,
		"search_key_pool_misses", misses,
	)
	s.mt.Close()
	return nil
}

type memtableIterator struct {
	it  *memtable.Iterator
	udt bool
}

func (m *memtableIterator) SeekGE(key []byte) bool {
	return m.it.SeekGE(key, ^uint64(0))
}

func (m *memtableIterator) SeekForPrev(key []byte) bool {
	return m.it.SeekLE(key, 0)
}

func (m *memtableIterator) Next() bool  { return m.it.Next() }
func (m *memtableIterator) Prev() bool  { return m.it.Prev() }
func (m *memtableIterator) Valid() bool { return m.it.Valid() }
func (m *memtableIterator) Key() []byte { return m.it.Key() }

func (m *memtableIterator) Timestamp() core.Timestamp {
	if !m.udt {
		return 0
	}
	return m.it.Timestamp()
}

func (m *memtableIterator) Value() []byte { return m.it.Value() }

func (m *memtableIterator) Error() error {
	if err := m.it.Error(); err != nil {
		if errors.Is(err, memtable.ErrClosed) {
			return ErrClosed
		}
		return &core.StoreIoError{Op: "iterate", Err: err}
	}
	return nil
}

func (m *memtableIterator) Close() error {
	return m.it.Close()
}
