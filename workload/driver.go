// Package workload drives concurrent load and read-modify-write workloads
// against a versioned store and reports their throughput.
//
// Every worker owns one indexId (its worker index), so no two workers ever
// touch the same logical record. The read-modify-write sequence is not atomic;
// its results are only meaningful under that partitioning.
package workload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/store"
	"github.com/caio/go-tdigest/v4"
	"golang.org/x/sync/errgroup"
)

const (
	ModeLoad            = "load"
	ModeReadModifyWrite = "rmw"
)

// Resolver answers the latest version of a record at or before ts.
type Resolver interface {
	ResolveLatestVersion(ctx context.Context, indexID, key int32, ts core.Timestamp) (rowID int64, found bool, err error)
}

// Clock supplies version timestamps for read-modify-write.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Config is the immutable input of a run.
type Config struct {
	Threads       int
	IDRange       int32
	OpsPerThread  int64
	LoadTimestamp core.Timestamp
	Engine        string // reported only

	// LatencySampleEvery records the latency of every n-th operation.
	// Zero or one samples every operation.
	LatencySampleEvery int64
}

// WorkerError identifies the worker whose operation aborted a run.
type WorkerError struct {
	Worker int
	Op     string // "resolve" or "put"
	Key    int32
	Err    error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %d failed to %s key %d: %v", e.Worker, e.Op, e.Key, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces the wall clock used for read-modify-write timestamps.
func WithClock(c Clock) Option {
	return func(d *Driver) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithSeed makes first-write row ids reproducible. Worker w draws from a
// source seeded with seed+w.
func WithSeed(seed int64) Option {
	return func(d *Driver) {
		d.seed = seed
	}
}

// WithMetrics publishes progress into m instead of the default expvar set.
func WithMetrics(m *Metrics) Option {
	return func(d *Driver) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Driver runs workloads against a shared store handle. The store must stay
// open until every run has returned.
type Driver struct {
	store    store.Store
	resolver Resolver
	cfg      Config
	strategy core.Strategy
	logger   *slog.Logger
	clock    Clock
	seed     int64
	metrics  *Metrics
}

// NewDriver validates cfg and binds the driver to st and r.
func NewDriver(st store.Store, r Resolver, cfg Config, logger *slog.Logger, opts ...Option) (*Driver, error) {
	if st == nil {
		return nil, errors.New("workload: store is required")
	}
	if r == nil {
		return nil, errors.New("workload: resolver is required")
	}
	if cfg.Threads <= 0 || cfg.Threads > math.MaxInt32 {
		return nil, fmt.Errorf("workload: threads must be in [1, %d], got %d", math.MaxInt32, cfg.Threads)
	}
	if cfg.IDRange <= 0 {
		return nil, fmt.Errorf("workload: id range must be positive, got %d", cfg.IDRange)
	}
	if cfg.OpsPerThread < 0 {
		return nil, fmt.Errorf("workload: ops per thread must not be negative, got %d", cfg.OpsPerThread)
	}
	if cfg.LatencySampleEvery <= 0 {
		cfg.LatencySampleEvery = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		store:    st,
		resolver: r,
		cfg:      cfg,
		strategy: st.Strategy(),
		logger:   logger.With("component", "Driver", "strategy", st.Strategy().String()),
		clock:    SystemClock{},
		seed:     time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics("versionbench_")
	}
	return d, nil
}

// worker is owned by a single goroutine until the run joins.
type worker struct {
	id      int
	indexID int32
	ops     int64
	rng     *rand.Rand
	digest  *tdigest.TDigest
}

// stepFunc performs operation i of a worker. It returns the key it touched
// and, on failure, the name of the failed operation.
type stepFunc func(ctx context.Context, w *worker, i int64) (key int32, op string, err error)

// SequentialLoad writes one version at LoadTimestamp for every key in
// [0, IDRange) of every worker's indexId, with rowId = key. No reads.
func (d *Driver) SequentialLoad(ctx context.Context) (*Report, error) {
	ts := d.cfg.LoadTimestamp
	return d.run(ctx, ModeLoad, int64(d.cfg.IDRange), func(_ context.Context, w *worker, i int64) (int32, string, error) {
		key := int32(i)
		if err := store.PutVersion(d.store, w.indexID, key, ts, int64(key)); err != nil {
			return key, "put", err
		}
		return key, "", nil
	})
}

// ReadModifyWrite runs OpsPerThread iterations per worker of: resolve the
// latest version of key (i mod IDRange) at the current time, then write
// previous rowId + 1 (or a random rowId on first write) at that time.
// A failed resolve or put aborts the whole run; nothing is retried.
func (d *Driver) ReadModifyWrite(ctx context.Context) (*Report, error) {
	idRange := int64(d.cfg.IDRange)
	return d.run(ctx, ModeReadModifyWrite, d.cfg.OpsPerThread, func(ctx context.Context, w *worker, i int64) (int32, string, error) {
		key := int32(i % idRange)
		ts := core.Timestamp(d.clock.Now().UnixNano())
		prev, found, err := d.resolver.ResolveLatestVersion(ctx, w.indexID, key, ts)
		if err != nil {
			return key, "resolve", err
		}
		next := prev + 1
		if !found {
			next = w.rng.Int63()
		}
		if err := store.PutVersion(d.store, w.indexID, key, ts, next); err != nil {
			return key, "put", err
		}
		return key, "", nil
	})
}

func (d *Driver) run(ctx context.Context, mode string, opsPerWorker int64, step stepFunc) (*Report, error) {
	workers := make([]*worker, d.cfg.Threads)
	for i := range workers {
		td, err := tdigest.New()
		if err != nil {
			return nil, fmt.Errorf("tdigest.New failed: %w", err)
		}
		workers[i] = &worker{
			id:      i,
			indexID: int32(i),
			rng:     rand.New(rand.NewSource(d.seed + int64(i))),
			digest:  td,
		}
	}

	d.logger.Info("Starting workload", "mode", mode, "threads", d.cfg.Threads, "ops_per_worker", opsPerWorker, "id_range", d.cfg.IDRange)
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for _, w := range workers {
		g.Go(func() error {
			d.metrics.ActiveWorker.Add(1)
			defer d.metrics.ActiveWorker.Add(-1)
			return d.runWorker(gctx, w, opsPerWorker, step, &total)
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)

	report := newReport(mode, d.strategy, d.cfg, workers, total.Load(), elapsed)
	if dc, ok := d.resolver.(interface{ DecodeErrors() uint64 }); ok {
		report.DecodeErrors = dc.DecodeErrors()
	}
	if err != nil {
		report.Failed = true
		report.Error = err.Error()
		d.logger.Error("Workload aborted", "mode", mode, "error", err, "completed_ops", report.TotalOps)
		return report, err
	}
	d.logger.Info("Workload finished", "mode", mode, "total_ops", report.TotalOps, "elapsed", elapsed, "throughput", report.Throughput)
	return report, nil
}

func (d *Driver) runWorker(ctx context.Context, w *worker, n int64, step stepFunc, total *atomic.Int64) error {
	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		key, op, err := step(ctx, w, i)
		if err != nil {
			d.metrics.ErrorsTotal.Add(1)
			d.logger.Warn("Worker failed", "worker", w.id, "op", op, "key", key, "error", err)
			return &WorkerError{Worker: w.id, Op: op, Key: key, Err: err}
		}
		lat := time.Since(start)
		w.ops++
		total.Add(1)
		d.metrics.OpsTotal.Add(1)
		if i%d.cfg.LatencySampleEvery == 0 {
			if err := w.digest.AddWeighted(float64(lat.Nanoseconds()), 1); err != nil {
				return fmt.Errorf("tdigest AddWeighted failed: %w", err)
			}
			observeLatency(d.metrics.LatencyHist, lat.Seconds())
		}
	}
	return nil
}
