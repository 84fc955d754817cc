// Package store adapts an ordered key-value engine to the version strategies
// of the benchmark. A Store is opened once per run, shared by every worker and
// closed after all of them have finished.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/INLOpen/versionbench/core"
)

var (
	// ErrNotFound is returned by Get and GetAt when no visible version exists.
	ErrNotFound = errors.New("store: not found")
	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("store: closed")
)

const (
	EnginePebble   = "pebble"
	EngineMemtable = "memtable"

	// DefaultPartition is the single logical partition every store exposes.
	DefaultPartition = "default"
)

// Store is a versioned key-value store bound to one strategy.
//
// For the embedded strategies keys are physical keys produced by
// core.EncodeKey and the timestamp methods are unsupported. For udt keys are
// 8-byte record prefixes and timestamps travel through GetAt and PutAt.
type Store interface {
	// Get returns a copy of the newest value stored under key.
	Get(key []byte) ([]byte, error)
	// GetAt returns a copy of the newest value of key with a timestamp <= ts.
	GetAt(key []byte, ts core.Timestamp) ([]byte, error)
	Put(key, value []byte) error
	PutAt(key []byte, ts core.Timestamp, value []byte) error
	NewIterator(opts IterOptions) (Iterator, error)
	Partitions() []string
	Strategy() core.Strategy
	Close() error
}

// Iterator is a lazy, bidirectional cursor over the entries of a Store. For
// udt every version is a separate entry, ordered newest first within a key.
// An Iterator must be closed and cannot be reused after Close.
type Iterator interface {
	// SeekGE moves to the first entry whose key is >= key.
	SeekGE(key []byte) bool
	// SeekForPrev moves to the last entry whose key is <= key.
	SeekForPrev(key []byte) bool
	Next() bool
	Prev() bool
	Valid() bool
	// Key returns the current key. It is only valid until the next move.
	Key() []byte
	// Timestamp returns the version timestamp of the current entry under udt
	// and zero otherwise.
	Timestamp() core.Timestamp
	// Value returns the current value. It is only valid until the next move.
	Value() []byte
	Error() error
	Close() error
}

// IterOptions restricts an iterator.
type IterOptions struct {
	// Prefix bounds iteration to keys starting with it. When the strategy
	// installs a prefix extractor the prefix filter is consulted on seeks.
	Prefix []byte
}

// Options configures Open.
type Options struct {
	Path     string
	Reset    bool // Destroy any existing data at Path first
	Strategy core.Strategy
	Engine   string // EnginePebble (default) or EngineMemtable

	// MemTableSize and BloomBitsPerKey override the strategy defaults when
	// non-zero.
	MemTableSize    uint64
	BloomBitsPerKey int
	Sync            bool
	Logger          *slog.Logger
}

// Open creates or opens a store. Engine options are derived from the
// strategy before anything touches disk. Failures are *core.StoreOpenError.
func Open(ctx context.Context, opts Options) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.StoreOpenError{Path: opts.Path, Err: err}
	}
	eo, err := EngineOptionsFor(opts.Strategy)
	if err != nil {
		return nil, &core.StoreOpenError{Path: opts.Path, Err: err}
	}
	if opts.MemTableSize > 0 {
		eo.MemTableSize = opts.MemTableSize
	}
	if opts.BloomBitsPerKey > 0 && eo.BloomBitsPerKey > 0 {
		eo.BloomBitsPerKey = opts.BloomBitsPerKey
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "Store")

	engine := strings.ToLower(strings.TrimSpace(opts.Engine))
	if engine == "" {
		engine = EnginePebble
	}

	var s Store
	switch engine {
	case EnginePebble:
		if opts.Path == "" {
			return nil, &core.StoreOpenError{Path: opts.Path, Err: errors.New("path must not be empty")}
		}
		if opts.Reset {
			if err := os.RemoveAll(opts.Path); err != nil {
				return nil, &core.StoreOpenError{Path: opts.Path, Err: fmt.Errorf("failed to destroy existing data: %w", err)}
			}
		}
		s, err = openPebble(opts.Path, eo, opts.Sync, logger)
	case EngineMemtable:
		s, err = openMemtable(eo, logger)
	default:
		err = fmt.Errorf("unknown engine %q", opts.Engine)
	}
	if err != nil {
		return nil, &core.StoreOpenError{Path: opts.Path, Err: err}
	}

	logger.Info("Opened store",
		"path", opts.Path,
		"engine", engine,
		"partitions", len(s.Partitions()),
		"strategy", opts.Strategy.String(),
	)
	return s, nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// immediateSuccessor returns the smallest key strictly greater than key.
func immediateSuccessor(key []byte) []byte {
	return append(append(make([]byte, 0, len(key)+1), key...), 0)
}

// checkUserKey rejects keys that do not have the fixed width the engine
// options require.
func checkUserKey(eo EngineOptions, op string, key []byte) error {
	if eo.UserKeySize > 0 && len(key) != eo.UserKeySize {
		return &core.StoreIoError{
			Op:     op,
			Detail: "key width",
			Err:    fmt.Errorf("keys must be %d bytes, got %d", eo.UserKeySize, len(key)),
		}
	}
	return nil
}

func unsupported(s core.Strategy, op string) error {
	return &core.UnsupportedStrategyError{Strategy: s.String(), Op: op}
}
