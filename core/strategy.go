package core

import (
	"fmt"
	"strings"
)

// Strategy identifies how the version timestamp of a logical record is
// represented in the underlying ordered key-value engine. It is fixed for the
// lifetime of a benchmark run.
type Strategy uint8

const (
	// StrategyEmbedAsc embeds the timestamp as an ascending big-endian suffix
	// of the physical key.
	StrategyEmbedAsc Strategy = iota
	// StrategyEmbedDesc embeds (MaxInt64 - timestamp) as the key suffix so that
	// ascending key order is descending timestamp order.
	StrategyEmbedDesc
	// StrategyUDT keeps the timestamp out of the key and passes it through the
	// engine's per-key timestamp channel.
	StrategyUDT
)

// Strategies lists every supported strategy in declaration order.
var Strategies = []Strategy{StrategyEmbedAsc, StrategyEmbedDesc, StrategyUDT}

// String returns the configuration name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyEmbedAsc:
		return "embed_asc"
	case StrategyEmbedDesc:
		return "embed_desc"
	case StrategyUDT:
		return "udt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the supported strategies.
func (s Strategy) Valid() bool {
	return s <= StrategyUDT
}

// EmbedsTimestamp reports whether the timestamp is part of the physical key.
func (s Strategy) EmbedsTimestamp() bool {
	return s == StrategyEmbedAsc || s == StrategyEmbedDesc
}

// KeySize returns the fixed physical key width for the strategy.
func (s Strategy) KeySize() (int, error) {
	switch s {
	case StrategyEmbedAsc, StrategyEmbedDesc:
		return EmbeddedKeySize, nil
	case StrategyUDT:
		return UDTKeySize, nil
	default:
		return 0, &UnsupportedStrategyError{Strategy: s.String(), Op: "key size"}
	}
}

// ParseStrategy converts a configuration name into a Strategy. Names are
// case-insensitive; "asc", "desc" and "retina" are accepted as aliases.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "embed_asc", "asc", "retina":
		return StrategyEmbedAsc, nil
	case "embed_desc", "desc":
		return StrategyEmbedDesc, nil
	case "udt":
		return StrategyUDT, nil
	default:
		return 0, &UnsupportedStrategyError{Strategy: name, Op: "parse"}
	}
}
