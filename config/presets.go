package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/INLOpen/versionbench/core"
)

type preset struct {
	idRange  int
	strategy core.Strategy
}

var presets = map[string]preset{
	"udt-10m":  {idRange: 10000000, strategy: core.StrategyUDT},
	"asc-10m":  {idRange: 10000000, strategy: core.StrategyEmbedAsc},
	"desc-10m": {idRange: 10000000, strategy: core.StrategyEmbedDesc},
	"udt-1k":   {idRange: 1000, strategy: core.StrategyUDT},
	"asc-1k":   {idRange: 1000, strategy: core.StrategyEmbedAsc},
	"desc-1k":  {idRange: 1000, strategy: core.StrategyEmbedDesc},
}

// PresetNames returns the names of the built-in scenarios, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset configures a named scenario: 16 threads, 1,000,000 operations
// per thread, existing data destroyed first, and a database path derived from
// the key space and strategy.
func (c *Config) ApplyPreset(name string) error {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("unknown preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	c.Benchmark.ThreadNum = 16
	c.Benchmark.OpsPerThread = 1000000
	c.Benchmark.IDRange = p.idRange
	c.Benchmark.TSType = p.strategy.String()
	c.Benchmark.DestroyBeforeStart = true
	c.Benchmark.DBPath = ""
	return nil
}
