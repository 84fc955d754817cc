// Package query resolves the latest version of a logical record visible at a
// timestamp, using the read path that matches the store's strategy.
package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ResolveFunc adapts a function to the resolver contract used by the
// workload driver.
type ResolveFunc func(ctx context.Context, indexID, key int32, ts core.Timestamp) (int64, bool, error)

func (f ResolveFunc) ResolveLatestVersion(ctx context.Context, indexID, key int32, ts core.Timestamp) (int64, bool, error) {
	return f(ctx, indexID, key, ts)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTracerProvider records one span per resolution.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Resolver) {
		if tp != nil {
			r.tracer = tp.Tracer("github.com/INLOpen/versionbench/query")
		}
	}
}

// Resolver answers "which row was current for (indexID, key) at ts". It is
// safe for concurrent use; it holds no locks of its own and every call opens
// and closes its own iterator.
type Resolver struct {
	store    store.Store
	strategy core.Strategy
	logger   *slog.Logger
	tracer   trace.Tracer

	decodeErrors atomic.Uint64
	warned       sync.Map // decode error class -> struct{}
}

// NewResolver binds a resolver to st. strategy must match the strategy st was
// opened with.
func NewResolver(st store.Store, strategy core.Strategy, logger *slog.Logger, opts ...Option) (*Resolver, error) {
	if !strategy.Valid() {
		return nil, &core.UnsupportedStrategyError{Strategy: strategy.String(), Op: "resolve"}
	}
	if st.Strategy() != strategy {
		return nil, fmt.Errorf("resolver strategy %s does not match store strategy %s", strategy, st.Strategy())
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:    st,
		strategy: strategy,
		logger:   logger.With("component", "Resolver", "strategy", strategy.String()),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Strategy returns the strategy the resolver reads with.
func (r *Resolver) Strategy() core.Strategy {
	return r.strategy
}

// DecodeErrors returns how many malformed entries were skipped so far.
func (r *Resolver) DecodeErrors() uint64 {
	return r.decodeErrors.Load()
}

// ResolveLatestVersion returns the row id of the newest version of
// (indexID, key) whose timestamp is <= ts. found is false when no such
// version exists. Timestamp 0 is a valid version.
func (r *Resolver) ResolveLatestVersion(ctx context.Context, indexID, key int32, ts core.Timestamp) (rowID int64, found bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	_, span := r.tracer.Start(ctx, "Resolver.ResolveLatestVersion")
	defer span.End()
	span.SetAttributes(
		attribute.String("strategy", r.strategy.String()),
		attribute.Int("index_id", int(indexID)),
		attribute.Int("key", int(key)),
	)

	switch r.strategy {
	case core.StrategyEmbedAsc:
		rowID, found, err = r.resolveAscending(indexID, key, ts)
	case core.StrategyEmbedDesc:
		rowID, found, err = r.resolveDescending(indexID, key, ts)
	case core.StrategyUDT:
		rowID, found, err = r.resolveTimestamped(indexID, key, ts)
	default:
		err = &core.UnsupportedStrategyError{Strategy: r.strategy.String(), Op: "resolve"}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, err
	}
	span.SetAttributes(attribute.Bool("found", found))
	return rowID, found, nil
}

// resolveAscending seeks backwards from the encoded (indexID, key, ts): with
// ascending timestamps the greatest key <= target is the newest version at or
// before ts, provided it still belongs to the same record.
func (r *Resolver) resolveAscending(indexID, key int32, ts core.Timestamp) (int64, bool, error) {
	target, err := core.EncodeKey(indexID, key, ts, core.StrategyEmbedAsc)
	if err != nil {
		return 0, false, err
	}
	prefix := target[:core.PrefixSize]

	it, err := r.store.NewIterator(store.IterOptions{Prefix: prefix})
	if err != nil {
		return 0, false, err
	}
	defer it.Close()

	if !it.SeekForPrev(target) {
		return 0, false, it.Error()
	}
	if !bytes.HasPrefix(it.Key(), prefix) {
		return 0, false, nil
	}
	return r.decodeRowID(it.Value())
}

// resolveDescending scans the record's versions newest first and stops at the
// first one whose timestamp is <= ts.
func (r *Resolver) resolveDescending(indexID, key int32, ts core.Timestamp) (int64, bool, error) {
	prefix := core.RecordPrefix(indexID, key)

	it, err := r.store.NewIterator(store.IterOptions{Prefix: prefix})
	if err != nil {
		return 0, false, err
	}
	defer it.Close()

	for ok := it.SeekGE(prefix); ok; ok = it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		versionTS, err := core.DecodeTimestampSuffix(k, core.StrategyEmbedDesc)
		if err != nil {
			var decErr *core.DecodeError
			if errors.As(err, &decErr) {
				r.skipMalformed(decErr)
				continue
			}
			return 0, false, err
		}
		if versionTS <= ts {
			return r.decodeRowID(it.Value())
		}
	}
	return 0, false, it.Error()
}

// resolveTimestamped hands ts to the store's timestamp channel.
func (r *Resolver) resolveTimestamped(indexID, key int32, ts core.Timestamp) (int64, bool, error) {
	k := core.RecordPrefix(indexID, key)
	val, err := r.store.GetAt(k, ts)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return r.decodeRowID(val)
}

func (r *Resolver) decodeRowID(val []byte) (int64, bool, error) {
	rowID, err := core.DecodeValue(val)
	if err != nil {
		return 0, false, err
	}
	return rowID, true, nil
}

// skipMalformed counts a malformed entry and warns once per error class.
func (r *Resolver) skipMalformed(err *core.DecodeError) {
	r.decodeErrors.Add(1)
	class := err.Class()
	if _, seen := r.warned.LoadOrStore(class, struct{}{}); !seen {
		r.logger.Warn("Skipping malformed entry during version scan", "class", class, "error", err)
	}
}
