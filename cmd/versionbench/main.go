package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/INLOpen/versionbench/config"
	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/monitor"
	"github.com/INLOpen/versionbench/query"
	"github.com/INLOpen/versionbench/store"
	"github.com/INLOpen/versionbench/workload"
	"golang.org/x/term"
)

// loadConfig reads the config file named by -config, applies -preset and then
// every flag that was set explicitly.
func loadConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("versionbench", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "Path to the configuration file")
	preset := fs.String("preset", "", "Named scenario (udt-10m, asc-10m, desc-10m, udt-1k, asc-1k, desc-1k)")
	mode := fs.String("mode", "", "Workload: load or rmw")
	threads := fs.Int("threads", 0, "Number of concurrent workers")
	ops := fs.Int64("ops", 0, "Operations per worker (rmw)")
	idRange := fs.Int("range", 0, "Keys per worker")
	tsType := fs.String("ts-type", "", "Strategy: embed_asc, embed_desc or udt")
	engine := fs.String("engine", "", "Storage engine: pebble or memtable")
	path := fs.String("path", "", "Database path")
	reset := fs.Bool("reset", false, "Destroy existing data before starting")
	verify := fs.Bool("verify", false, "Scan the store after the run and check record counts")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	if *preset != "" {
		if err := cfg.ApplyPreset(*preset); err != nil {
			return nil, err
		}
	}
	b := &cfg.Benchmark
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			b.Mode = *mode
		case "threads":
			b.ThreadNum = *threads
		case "ops":
			b.OpsPerThread = *ops
		case "range":
			b.IDRange = *idRange
		case "ts-type":
			b.TSType = *tsType
		case "engine":
			b.Engine = *engine
		case "path":
			b.DBPath = *path
		case "reset":
			b.DestroyBeforeStart = *reset
		case "verify":
			b.Verify = *verify
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run executes one benchmark. The returned report is non-nil whenever the
// workload started, including when it failed.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*workload.Report, error) {
	b := cfg.Benchmark
	strategy, err := b.Strategy()
	if err != nil {
		return nil, err
	}

	tp, cleanupTracer, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return nil, err
	}
	defer cleanupTracer()

	if cfg.Debug.Enabled {
		debugServer := monitor.NewDebugServer(&cfg.Debug, logger)
		if err := debugServer.Start(); err != nil {
			logger.Warn("Debug server unavailable", "error", err)
		}
		defer debugServer.Stop()
	}

	var collector *monitor.SystemCollector
	if cfg.Monitoring.Enabled {
		diskPath := b.PathPrefix
		if b.Engine == store.EnginePebble {
			diskPath = filepath.Dir(b.ResolvedDBPath())
		}
		interval := config.ParseDuration(cfg.Monitoring.Interval, 5*time.Second, logger)
		collector = monitor.NewSystemCollector(diskPath, interval, logger)
		collector.Start()
		defer collector.Stop()
	}

	dbPath := b.ResolvedDBPath()
	st, err := store.Open(ctx, store.Options{
		Path:            dbPath,
		Reset:           b.DestroyBeforeStart,
		Strategy:        strategy,
		Engine:          b.Engine,
		MemTableSize:    cfg.Engine.MemtableSizeBytes,
		BloomBitsPerKey: cfg.Engine.BloomBitsPerKey,
		Sync:            cfg.Engine.Sync,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	var resolverOpts []query.Option
	if tp != nil {
		resolverOpts = append(resolverOpts, query.WithTracerProvider(tp))
	}
	resolver, err := query.NewResolver(st, strategy, logger, resolverOpts...)
	if err != nil {
		return nil, err
	}

	var driverOpts []workload.Option
	if b.Seed != 0 {
		driverOpts = append(driverOpts, workload.WithSeed(b.Seed))
	}
	driver, err := workload.NewDriver(st, resolver, workload.Config{
		Threads:       b.ThreadNum,
		IDRange:       int32(b.IDRange),
		OpsPerThread:  b.OpsPerThread,
		LoadTimestamp: core.Timestamp(b.LoadTimestamp),
		Engine:        b.Engine,
	}, logger, driverOpts...)
	if err != nil {
		return nil, err
	}

	var report *workload.Report
	switch b.Mode {
	case config.ModeLoad:
		report, err = driver.SequentialLoad(ctx)
	case config.ModeReadModifyWrite:
		report, err = driver.ReadModifyWrite(ctx)
	default:
		return nil, fmt.Errorf("unknown benchmark mode %q", b.Mode)
	}
	if collector != nil && report != nil {
		snap := collector.Collect(0)
		report.System = &snap
	}
	if err != nil {
		return report, err
	}

	if b.Verify {
		// A short rmw run only reaches the first OpsPerThread keys.
		expectRange := int64(b.IDRange)
		if b.Mode == config.ModeReadModifyWrite && b.OpsPerThread < expectRange {
			expectRange = b.OpsPerThread
		}
		res, err := workload.Verify(ctx, st, b.ThreadNum, int32(expectRange), core.Timestamp(b.LoadTimestamp))
		if err != nil {
			return report, fmt.Errorf("verify failed: %w", err)
		}
		report.Verify = res
		logger.Info("Verified store", "result", res.String())
		if !res.Complete() {
			return report, fmt.Errorf("verify failed: %s", res)
		}
	}
	return report, nil
}

// printReport writes the human form on a terminal and JSON otherwise.
func printReport(w io.Writer, report *workload.Report, isTerminal bool) error {
	if isTerminal {
		_, err := fmt.Fprintln(w, report.String())
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(2)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := run(ctx, cfg, logger)
	if report != nil {
		if err := printReport(os.Stdout, report, term.IsTerminal(int(os.Stdout.Fd()))); err != nil {
			logger.Error("Failed to print report", "error", err)
		}
	}
	if runErr != nil {
		logger.Error("Benchmark failed", "error", runErr)
		if logCloser != nil {
			logCloser.Close()
		}
		stop()
		os.Exit(1)
	}
}
