package query

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var testEngines = []string{store.EnginePebble, store.EngineMemtable}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store    store.Store
	resolver *Resolver
}

func newFixture(t testing.TB, engine string, s core.Strategy, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{
		Path:     filepath.Join(t.TempDir(), "db"),
		Reset:    true,
		Strategy: s,
		Engine:   engine,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	r, err := NewResolver(st, s, testLogger(), opts...)
	require.NoError(t, err)
	return &fixture{store: st, resolver: r}
}

func (f *fixture) put(t testing.TB, indexID, key int32, ts core.Timestamp, rowID int64) {
	t.Helper()
	require.NoError(t, store.PutVersion(f.store, indexID, key, ts, rowID))
}

// forEachStore runs fn for every engine and strategy combination.
func forEachStore(t *testing.T, fn func(t *testing.T, engine string, s core.Strategy)) {
	for _, engine := range testEngines {
		for _, s := range core.Strategies {
			t.Run(engine+"/"+s.String(), func(t *testing.T) {
				fn(t, engine, s)
			})
		}
	}
}

func TestResolveLatestVersion_VersionSet(t *testing.T) {
	forEachStore(t, func(t *testing.T, engine string, s core.Strategy) {
		f := newFixture(t, engine, s)
		ctx := context.Background()

		// Versions of (1, 5) at t1 < t2 < t3, written out of order.
		f.put(t, 1, 5, 200, 2)
		f.put(t, 1, 5, 100, 1)
		f.put(t, 1, 5, 300, 3)
		// Neighbouring records that must never leak into the answer.
		f.put(t, 1, 4, 50, 40)
		f.put(t, 1, 6, 50, 60)
		f.put(t, 0, 5, 50, 5)
		f.put(t, 2, 5, 50, 25)

		testCases := []struct {
			name     string
			ts       core.Timestamp
			expected int64
			found    bool
		}{
			{name: "before t1", ts: 99, found: false},
			{name: "well before t1", ts: 0, found: false},
			{name: "at t1", ts: 100, expected: 1, found: true},
			{name: "between t1 and t2", ts: 150, expected: 1, found: true},
			{name: "at t2", ts: 200, expected: 2, found: true},
			{name: "just before t3", ts: 299, expected: 2, found: true},
			{name: "at t3", ts: 300, expected: 3, found: true},
			{name: "far future", ts: math.MaxInt64, expected: 3, found: true},
		}
		for _, tc := range testCases {
			rowID, found, err := f.resolver.ResolveLatestVersion(ctx, 1, 5, tc.ts)
			require.NoError(t, err, tc.name)
			assert.Equal(t, tc.found, found, tc.name)
			assert.Equal(t, tc.expected, rowID, tc.name)
		}

		_, found, err := f.resolver.ResolveLatestVersion(ctx, 1, 7, math.MaxInt64)
		require.NoError(t, err)
		assert.False(t, found, "a record never written is absent")
	})
}

func TestResolveLatestVersion_StrategiesAgree(t *testing.T) {
	for _, engine := range testEngines {
		t.Run(engine, func(t *testing.T) {
			fixtures := make([]*fixture, len(core.Strategies))
			for i, s := range core.Strategies {
				fixtures[i] = newFixture(t, engine, s)
			}

			rng := rand.New(rand.NewSource(7))
			for i := 0; i < 300; i++ {
				indexID := int32(rng.Intn(3))
				key := int32(rng.Intn(10))
				ts := core.Timestamp(rng.Int63n(1000))
				rowID := rng.Int63()
				for _, f := range fixtures {
					f.put(t, indexID, key, ts, rowID)
				}
			}

			ctx := context.Background()
			for i := 0; i < 500; i++ {
				indexID := int32(rng.Intn(4))
				key := int32(rng.Intn(11))
				ts := core.Timestamp(rng.Int63n(1100))

				wantRow, wantFound, err := fixtures[0].resolver.ResolveLatestVersion(ctx, indexID, key, ts)
				require.NoError(t, err)
				for j, f := range fixtures[1:] {
					gotRow, gotFound, err := f.resolver.ResolveLatestVersion(ctx, indexID, key, ts)
					require.NoError(t, err)
					require.Equal(t, wantFound, gotFound, "%s disagrees on (%d, %d, %d)", core.Strategies[j+1], indexID, key, ts)
					require.Equal(t, wantRow, gotRow, "%s disagrees on (%d, %d, %d)", core.Strategies[j+1], indexID, key, ts)
				}
			}
		})
	}
}

func TestResolveLatestVersion_WallClockBoundary(t *testing.T) {
	const written core.Timestamp = 1761139362806988526

	forEachStore(t, func(t *testing.T, engine string, s core.Strategy) {
		ctx := context.Background()

		f := newFixture(t, engine, s)
		f.put(t, 0, 1, written, 100)

		_, found, err := f.resolver.ResolveLatestVersion(ctx, 0, 1, written-1)
		require.NoError(t, err)
		assert.False(t, found, "the only version is newer than the query")

		rowID, found, err := f.resolver.ResolveLatestVersion(ctx, 0, 1, written)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(100), rowID)

		f.put(t, 0, 1, written-10, 99)
		rowID, found, err = f.resolver.ResolveLatestVersion(ctx, 0, 1, written-1)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(99), rowID)
	})
}

func TestResolveLatestVersion_TimestampZero(t *testing.T) {
	forEachStore(t, func(t *testing.T, engine string, s core.Strategy) {
		f := newFixture(t, engine, s)
		f.put(t, 3, 0, 0, 42)

		rowID, found, err := f.resolver.ResolveLatestVersion(context.Background(), 3, 0, 0)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(42), rowID)
	})
}

func TestResolveLatestVersion_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, engine string, s core.Strategy) {
		ctx := context.Background()
		f := newFixture(t, engine, s)

		f.put(t, 1, 1, 500, 9)
		before, found, err := f.resolver.ResolveLatestVersion(ctx, 1, 1, 500)
		require.NoError(t, err)
		require.True(t, found)

		f.put(t, 1, 1, 500, 9)
		after, found, err := f.resolver.ResolveLatestVersion(ctx, 1, 1, 500)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, before, after)
	})
}

func TestResolveLatestVersion_MalformedEntries(t *testing.T) {
	for _, engine := range testEngines {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, engine, core.StrategyEmbedDesc)
			f.put(t, 1, 1, 10, 1)
			f.put(t, 1, 1, 20, 2)

			prefix := core.RecordPrefix(1, 1)
			// Too short: sorts before every valid version of the record.
			require.NoError(t, f.store.Put(append(prefix[:8:8], 0, 0, 0), core.EncodeValue(-1)))
			// Right width but an inverted timestamp no encoder produces.
			require.NoError(t, f.store.Put(append(prefix[:8:8], 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff), core.EncodeValue(-2)))

			rowID, found, err := f.resolver.ResolveLatestVersion(ctx, 1, 1, 15)
			require.NoError(t, err)
			require.True(t, found, "malformed entries are skipped, not treated as the end of the scan")
			assert.Equal(t, int64(1), rowID)
			assert.Equal(t, uint64(1), f.resolver.DecodeErrors())

			_, found, err = f.resolver.ResolveLatestVersion(ctx, 1, 1, 5)
			require.NoError(t, err)
			assert.False(t, found)
			assert.Equal(t, uint64(3), f.resolver.DecodeErrors())
		})
	}
}

func TestResolveLatestVersion_CorruptValue(t *testing.T) {
	forEachStore(t, func(t *testing.T, engine string, s core.Strategy) {
		f := newFixture(t, engine, s)
		k, err := core.EncodeKey(1, 1, 10, s)
		require.NoError(t, err)
		if s == core.StrategyUDT {
			require.NoError(t, f.store.PutAt(k, 10, []byte{1, 2, 3}))
		} else {
			require.NoError(t, f.store.Put(k, []byte{1, 2, 3}))
		}

		_, found, err := f.resolver.ResolveLatestVersion(context.Background(), 1, 1, 10)
		require.Error(t, err)
		assert.False(t, found)
		assert.True(t, core.IsDecodeError(err))
	})
}

func TestResolveLatestVersion_ClosedStore(t *testing.T) {
	forEachStore(t, func(t *testing.T, engine string, s core.Strategy) {
		f := newFixture(t, engine, s)
		require.NoError(t, f.store.Close())

		_, _, err := f.resolver.ResolveLatestVersion(context.Background(), 1, 1, 10)
		assert.ErrorIs(t, err, store.ErrClosed)
	})
}

func TestResolveLatestVersion_CancelledContext(t *testing.T) {
	f := newFixture(t, store.EngineMemtable, core.StrategyEmbedAsc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := f.resolver.ResolveLatestVersion(ctx, 1, 1, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveLatestVersion_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newFixture(t, store.EngineMemtable, core.StrategyUDT, WithTracerProvider(tp))
	f.put(t, 1, 1, 10, 7)

	_, found, err := f.resolver.ResolveLatestVersion(context.Background(), 1, 1, 10)
	require.NoError(t, err)
	require.True(t, found)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Resolver.ResolveLatestVersion", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "udt", attrs["strategy"])
	assert.Equal(t, "true", attrs["found"])
}

func TestNewResolver_Errors(t *testing.T) {
	f := newFixture(t, store.EngineMemtable, core.StrategyEmbedAsc)

	_, err := NewResolver(f.store, core.StrategyUDT, testLogger())
	assert.Error(t, err, "strategy must match the store")

	_, err = NewResolver(f.store, core.Strategy(5), testLogger())
	assert.True(t, core.IsUnsupportedStrategyError(err))
}

func TestResolveFunc(t *testing.T) {
	var fn ResolveFunc = func(_ context.Context, indexID, key int32, ts core.Timestamp) (int64, bool, error) {
		return int64(indexID) + int64(key) + int64(ts), true, nil
	}
	rowID, found, err := fn.ResolveLatestVersion(context.Background(), 1, 2, 3)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(6), rowID)
}

func BenchmarkResolveLatestVersion(b *testing.B) {
	for _, s := range core.Strategies {
		b.Run(fmt.Sprintf("memtable/%s", s), func(b *testing.B) {
			f := newFixture(b, store.EngineMemtable, s)
			for key := int32(0); key < 1000; key++ {
				for ts := core.Timestamp(1); ts <= 4; ts++ {
					f.put(b, 0, key, ts*100, int64(ts))
				}
			}
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := f.resolver.ResolveLatestVersion(ctx, 0, int32(i%1000), 250); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
