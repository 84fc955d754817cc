package store

import (
	"github.com/INLOpen/versionbench/core"
)

const (
	// DefaultMemTableSize is the engine write buffer size used when the
	// configuration does not set one.
	DefaultMemTableSize uint64 = 64 << 20
	// DefaultBloomBitsPerKey is the prefix bloom filter density for embed_desc.
	DefaultBloomBitsPerKey = 10

	fixedPrefixComparerName = "versionbench.fixed-prefix-8"
)

// EngineOptions is the engine configuration derived from a strategy. It is
// computed once when a store is opened and never changes afterwards.
type EngineOptions struct {
	Strategy core.Strategy

	// UserKeySize is the fixed width every user key must have. Zero accepts
	// any width.
	UserKeySize int
	// TimestampSize is the width of the engine-native timestamp channel. Zero
	// means the channel is disabled.
	TimestampSize int
	// PrefixLength is the width of the fixed prefix extractor. Zero means keys
	// are not split and filters cover whole keys.
	PrefixLength int
	// BloomBitsPerKey enables a bloom filter over the extracted prefix when
	// non-zero.
	BloomBitsPerKey int
	// WholeKeyFiltering adds whole keys to the filter as well as prefixes.
	WholeKeyFiltering bool
	// ComparerName identifies the key ordering; reopening a store with a
	// different ordering fails.
	ComparerName string

	MemTableSize uint64
}

// EngineOptionsFor maps a strategy to its engine options. It has no side
// effects and returns an UnsupportedStrategyError for unknown strategies.
func EngineOptionsFor(s core.Strategy) (EngineOptions, error) {
	eo := EngineOptions{
		Strategy:     s,
		MemTableSize: DefaultMemTableSize,
	}
	switch s {
	case core.StrategyEmbedAsc:
		eo.ComparerName = "leveldb.BytewiseComparator"
	case core.StrategyEmbedDesc:
		eo.PrefixLength = core.PrefixSize
		eo.BloomBitsPerKey = DefaultBloomBitsPerKey
		eo.WholeKeyFiltering = false
		eo.ComparerName = fixedPrefixComparerName
	case core.StrategyUDT:
		eo.UserKeySize = core.UDTKeySize
		eo.TimestampSize = core.TimestampSize
		eo.PrefixLength = core.UDTKeySize
		eo.ComparerName = fixedPrefixComparerName
	default:
		return EngineOptions{}, &core.UnsupportedStrategyError{Strategy: s.String(), Op: "engine options"}
	}
	return eo, nil
}
