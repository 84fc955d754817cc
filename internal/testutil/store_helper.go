// Package testutil holds helpers shared by tests that need a live store.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/store"
)

// EnginesEnv selects the engines store-backed tests run against, as a comma
// separated list. Both engines are used when it is unset.
const EnginesEnv = "VERSIONBENCH_TEST_ENGINES"

// Engines returns the engines requested by EnginesEnv. Unknown names are
// ignored; an empty result falls back to every engine.
func Engines() []string {
	all := []string{store.EnginePebble, store.EngineMemtable}
	v := strings.TrimSpace(os.Getenv(EnginesEnv))
	if v == "" {
		return all
	}
	var out []string
	for _, name := range strings.Split(v, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == store.EnginePebble || name == store.EngineMemtable {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenStore opens a fresh store under t.TempDir and closes it on cleanup.
func OpenStore(t testing.TB, engine string, s core.Strategy) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Path:     filepath.Join(t.TempDir(), "db"),
		Reset:    true,
		Strategy: s,
		Engine:   engine,
		Logger:   DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("open %s store for %s: %v", engine, s, err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// ForEachStore runs fn as a subtest for every engine and strategy.
func ForEachStore(t *testing.T, fn func(t *testing.T, engine string, s core.Strategy)) {
	t.Helper()
	for _, engine := range Engines() {
		for _, s := range core.Strategies {
			t.Run(engine+"/"+s.String(), func(t *testing.T) {
				fn(t, engine, s)
			})
		}
	}
}

// ListStoreFiles returns the regular files directly under dir.
func ListStoreFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// RequireStoreFiles fails the test unless dir holds at least one file.
func RequireStoreFiles(t *testing.T, dir string) {
	t.Helper()
	files, err := ListStoreFiles(dir)
	if err != nil {
		t.Fatalf("expected store directory at %s: %v", dir, err)
	}
	if len(files) == 0 {
		t.Fatalf("expected store files in %s, none found", dir)
	}
}
