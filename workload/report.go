package workload

import (
	"fmt"
	"strings"
	"time"

	"github.com/INLOpen/versionbench/core"
	"github.com/INLOpen/versionbench/monitor"
	"github.com/caio/go-tdigest/v4"
)

// Report summarises a finished or aborted run. Failed runs still carry the
// operations completed before the abort.
type Report struct {
	Mode         string            `json:"mode"`
	Strategy     string            `json:"strategy"`
	Engine       string            `json:"engine,omitempty"`
	Threads      int               `json:"threads"`
	TotalOps     int64             `json:"total_ops"`
	PerWorker    []int64           `json:"per_worker_ops"`
	Elapsed      time.Duration     `json:"elapsed_ns"`
	Throughput   float64           `json:"throughput_ops_per_sec"`
	P50          time.Duration     `json:"p50_ns"`
	P90          time.Duration     `json:"p90_ns"`
	P99          time.Duration     `json:"p99_ns"`
	Failed       bool              `json:"failed"`
	Error        string            `json:"error,omitempty"`
	DecodeErrors uint64            `json:"decode_errors"`
	System       *monitor.Snapshot `json:"system,omitempty"`
	Verify       *VerifyResult     `json:"verify,omitempty"`
}

func newReport(mode string, s core.Strategy, cfg Config, workers []*worker, total int64, elapsed time.Duration) *Report {
	r := &Report{
		Mode:      mode,
		Strategy:  s.String(),
		Engine:    cfg.Engine,
		Threads:   len(workers),
		TotalOps:  total,
		PerWorker: make([]int64, len(workers)),
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		r.Throughput = float64(total) / elapsed.Seconds()
	}
	merged, err := tdigest.New()
	if err != nil {
		return r
	}
	for i, w := range workers {
		r.PerWorker[i] = w.ops
		if w.digest.Count() > 0 {
			_ = merged.Merge(w.digest)
		}
	}
	if merged.Count() > 0 {
		r.P50 = time.Duration(merged.Quantile(0.50))
		r.P90 = time.Duration(merged.Quantile(0.90))
		r.P99 = time.Duration(merged.Quantile(0.99))
	}
	return r
}

// String renders the report for a terminal.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, "--- Benchmark Results ---")
	fmt.Fprintf(&b, "Mode:             %s\n", r.Mode)
	fmt.Fprintf(&b, "Strategy:         %s\n", r.Strategy)
	if r.Engine != "" {
		fmt.Fprintf(&b, "Engine:           %s\n", r.Engine)
	}
	fmt.Fprintf(&b, "Threads:          %d\n", r.Threads)
	fmt.Fprintf(&b, "Total Operations: %d\n", r.TotalOps)
	fmt.Fprintf(&b, "Total Time Taken: %.2f seconds\n", r.Elapsed.Seconds())
	fmt.Fprintf(&b, "Throughput:       %.2f ops/sec\n", r.Throughput)
	fmt.Fprintln(&b, "--- Latency Distribution ---")
	fmt.Fprintf(&b, "P50 (Median): %v\n", r.P50)
	fmt.Fprintf(&b, "P90:          %v\n", r.P90)
	fmt.Fprintf(&b, "P99:          %v\n", r.P99)
	if r.DecodeErrors > 0 {
		fmt.Fprintf(&b, "Malformed entries skipped: %d\n", r.DecodeErrors)
	}
	if r.System != nil {
		fmt.Fprintf(&b, "System: %s\n", r.System)
	}
	if r.Verify != nil {
		fmt.Fprintf(&b, "Verify: %s\n", r.Verify)
	}
	if r.Failed {
		fmt.Fprintf(&b, "FAILED: %s\n", r.Error)
	}
	b.WriteString("-------------------------")
	return b.String()
}
