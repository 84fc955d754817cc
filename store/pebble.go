package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/INLOpen/versionbench/core"
	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/bloom"
)

const blockCacheSize = 128 << 20

// pebbleStore is a Store backed by Pebble. Under udt the engine key is
// userKey ∥ BE(^ts), so the versions of a user key share its prefix and sort
// newest first, which is the timestamp channel the strategy relies on.
type pebbleStore struct {
	db        *pebble.DB
	eo        EngineOptions
	writeOpts *pebble.WriteOptions
	logger    *slog.Logger
	closed    atomic.Bool
}

// newFixedPrefixComparer returns the bytewise comparer with a Split that
// treats the first n bytes of a key as its prefix. Keys of a single strategy
// have a fixed width, so bytewise order is unchanged.
func newFixedPrefixComparer(n int) *pebble.Comparer {
	c := *pebble.DefaultComparer
	c.Split = func(a []byte) int {
		if len(a) < n {
			return len(a)
		}
		return n
	}
	// The successor of a prefix must itself be a whole prefix
	// (Split(k) == len(k)), so increment the prefix instead of appending 0x00.
	c.ImmediateSuccessor = func(dst, a []byte) []byte {
		p := a[:c.Split(a)]
		if end := prefixEnd(p); end != nil {
			return append(dst, end...)
		}
		// An all-0xff prefix has no whole-prefix successor.
		return append(append(dst, a...), 0)
	}
	c.Name = fixedPrefixComparerName
	return &c
}

func openPebble(path string, eo EngineOptions, sync bool, logger *slog.Logger) (*pebbleStore, error) {
	cache := pebble.NewCache(blockCacheSize)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: eo.MemTableSize,
		Logger:       &pebbleLogger{logger: logger.With("engine", EnginePebble)},
	}
	if eo.PrefixLength > 0 {
		opts.Comparer = newFixedPrefixComparer(eo.PrefixLength)
	}
	// Filters are built over Split prefixes, so with a prefix extractor
	// installed whole keys are never added.
	if eo.BloomBitsPerKey > 0 {
		for i := range opts.Levels {
			opts.Levels[i].FilterPolicy = bloom.FilterPolicy(eo.BloomBitsPerKey)
		}
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	writeOpts := pebble.NoSync
	if sync {
		writeOpts = pebble.Sync
	}
	return &pebbleStore{
		db:        db,
		eo:        eo,
		writeOpts: writeOpts,
		logger:    logger,
	}, nil
}

func (s *pebbleStore) udt() bool {
	return s.eo.TimestampSize > 0
}

func (s *pebbleStore) engineKey(key []byte, ts core.Timestamp) []byte {
	buf := make([]byte, 0, len(key)+core.TimestampSize)
	buf = append(buf, key...)
	return append(buf, core.EncodeTimestamp(^ts)...)
}

func (s *pebbleStore) Get(key []byte) ([]byte, error) {
	if s.udt() {
		return s.GetAt(key, ^core.Timestamp(0))
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &core.StoreIoError{Op: "get", Err: err}
	}
	out := bytes.Clone(val)
	if err := closer.Close(); err != nil {
		return nil, &core.StoreIoError{Op: "get", Detail: "release value", Err: err}
	}
	return out, nil
}

func (s *pebbleStore) GetAt(key []byte, ts core.Timestamp) ([]byte, error) {
	if !s.udt() {
		return nil, unsupported(s.eo.Strategy, "timestamped get")
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := checkUserKey(s.eo, "get", key); err != nil {
		return nil, err
	}

	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: key,
		UpperBound: prefixEnd(key),
		KeyTypes:   pebble.IterKeyTypePointsOnly,
	})
	if err != nil {
		return nil, &core.StoreIoError{Op: "get", Detail: "new iterator", Err: err}
	}
	defer it.Close()

	// userKey ∥ ^ts sorts after every newer version, so the first entry at or
	// after it is the newest version visible at ts.
	if !it.SeekPrefixGE(s.engineKey(key, ts)) {
		if err := it.Error(); err != nil {
			return nil, &core.StoreIoError{Op: "get", Err: err}
		}
		return nil, ErrNotFound
	}
	return bytes.Clone(it.Value()), nil
}

func (s *pebbleStore) Put(key, value []byte) error {
	if s.udt() {
		return unsupported(s.eo.Strategy, "put without timestamp")
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.db.Set(key, value, s.writeOpts); err != nil {
		return &core.StoreIoError{Op: "put", Err: err}
	}
	return nil
}

func (s *pebbleStore) PutAt(key []byte, ts core.Timestamp, value []byte) error {
	if !s.udt() {
		return unsupported(s.eo.Strategy, "timestamped put")
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if err := checkUserKey(s.eo, "put", key); err != nil {
		return err
	}
	if err := s.db.Set(s.engineKey(key, ts), value, s.writeOpts); err != nil {
		return &core.StoreIoError{Op: "put", Err: err}
	}
	return nil
}

func (s *pebbleStore) NewIterator(opts IterOptions) (Iterator, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	iterOpts := &pebble.IterOptions{KeyTypes: pebble.IterKeyTypePointsOnly}
	if opts.Prefix != nil {
		iterOpts.LowerBound = opts.Prefix
		iterOpts.UpperBound = prefixEnd(opts.Prefix)
	}
	it, err := s.db.NewIter(iterOpts)
	if err != nil {
		return nil, &core.StoreIoError{Op: "iterate", Detail: "new iterator", Err: err}
	}
	pi := &pebbleIterator{it: it, udt: s.udt()}
	if n := s.eo.PrefixLength; n > 0 && len(opts.Prefix) >= n {
		pi.seekPrefix = opts.Prefix[:n]
	}
	return pi, nil
}

func (s *pebbleStore) Partitions() []string {
	return []string{DefaultPartition}
}

func (s *pebbleStore) Strategy() core.Strategy {
	return s.eo.Strategy
}

func (s *pebbleStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug("Closing store", "metrics", s.db.Metrics().String())
	if err := s.db.Close(); err != nil {
		return &core.StoreIoError{Op: "close", Err: err}
	}
	return nil
}

// pebbleIterator adapts a Pebble iterator. When the iteration prefix covers a
// whole extracted prefix, forward seeks use SeekPrefixGE so the prefix bloom
// filter is consulted.
type pebbleIterator struct {
	it         *pebble.Iterator
	udt        bool
	seekPrefix []byte
	prefixMode bool
	closed     bool
}

func (p *pebbleIterator) SeekGE(key []byte) bool {
	if p.closed {
		return false
	}
	if p.seekPrefix != nil && bytes.HasPrefix(key, p.seekPrefix) {
		p.prefixMode = true
		return p.it.SeekPrefixGE(key)
	}
	p.prefixMode = false
	return p.it.SeekGE(key)
}

func (p *pebbleIterator) SeekForPrev(key []byte) bool {
	if p.closed {
		return false
	}
	p.prefixMode = false
	target := key
	if p.udt {
		// The oldest possible version of key is key ∥ BE(^0).
		target = binary.BigEndian.AppendUint64(append([]byte(nil), key...), ^uint64(0))
	}
	return p.it.SeekLT(immediateSuccessor(target))
}

func (p *pebbleIterator) Next() bool {
	if p.closed {
		return false
	}
	return p.it.Next()
}

func (p *pebbleIterator) Prev() bool {
	if p.closed {
		return false
	}
	if p.prefixMode {
		// Prefix iteration cannot reverse; re-seek in normal mode.
		p.prefixMode = false
		if !p.it.Valid() {
			return false
		}
		return p.it.SeekLT(bytes.Clone(p.it.Key()))
	}
	return p.it.Prev()
}

func (p *pebbleIterator) Valid() bool {
	return !p.closed && p.it.Valid()
}

func (p *pebbleIterator) Key() []byte {
	if !p.Valid() {
		return nil
	}
	k := p.it.Key()
	if p.udt && len(k) >= core.TimestampSize {
		return k[:len(k)-core.TimestampSize]
	}
	return k
}

func (p *pebbleIterator) Timestamp() core.Timestamp {
	if !p.udt || !p.Valid() {
		return 0
	}
	k := p.it.Key()
	if len(k) < core.TimestampSize {
		return 0
	}
	return ^binary.BigEndian.Uint64(k[len(k)-core.TimestampSize:])
}

func (p *pebbleIterator) Value() []byte {
	if !p.Valid() {
		return nil
	}
	return p.it.Value()
}

func (p *pebbleIterator) Error() error {
	if p.closed {
		return nil
	}
	if err := p.it.Error(); err != nil {
		return &core.StoreIoError{Op: "iterate", Err: err}
	}
	return nil
}

func (p *pebbleIterator) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.it.Close(); err != nil {
		return &core.StoreIoError{Op: "iterate", Detail: "close", Err: err}
	}
	return nil
}

// pebbleLogger routes engine logs into slog. Informational engine events are
// demoted to debug.
type pebbleLogger struct {
	logger *slog.Logger
}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "fatal", true)
	os.Exit(1)
}
