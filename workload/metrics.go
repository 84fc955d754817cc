package workload

import (
	"expvar"
	"fmt"
)

// latencyBuckets are the upper bounds, in seconds, of the operation latency
// histogram. Point lookups land in the microsecond range.
var latencyBuckets = []float64{0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 1.0}

// Metrics holds the expvar counters a driver publishes while it runs.
type Metrics struct {
	OpsTotal     *expvar.Int
	ErrorsTotal  *expvar.Int
	ActiveWorker *expvar.Int
	LatencyHist  *expvar.Map
}

// NewMetrics publishes (or resets) the driver's expvar variables under prefix.
func NewMetrics(prefix string) *Metrics {
	m := &Metrics{
		OpsTotal:     publishExpvarInt(prefix + "ops_total"),
		ErrorsTotal:  publishExpvarInt(prefix + "errors_total"),
		ActiveWorker: publishExpvarInt(prefix + "active_workers"),
		LatencyHist:  publishExpvarMap(prefix + "op_latency_seconds"),
	}
	m.LatencyHist.Set("count", new(expvar.Int))
	m.LatencyHist.Set("sum", new(expvar.Float))
	for _, b := range latencyBuckets {
		m.LatencyHist.Set(bucketName(b), new(expvar.Int))
	}
	m.LatencyHist.Set("le_inf", new(expvar.Int))
	return m
}

func bucketName(b float64) string {
	return fmt.Sprintf("le_%g", b)
}

// observeLatency records the duration in the provided histogram map.
func observeLatency(histMap *expvar.Map, durationSeconds float64) {
	if histMap == nil {
		return
	}
	if countInt, ok := histMap.Get("count").(*expvar.Int); ok {
		countInt.Add(1)
	}
	if sumFloat, ok := histMap.Get("sum").(*expvar.Float); ok {
		sumFloat.Add(durationSeconds)
	}
	// Cumulative: an observation counts toward every bucket it fits in.
	for _, b := range latencyBuckets {
		if durationSeconds > b {
			continue
		}
		if bucketInt, ok := histMap.Get(bucketName(b)).(*expvar.Int); ok {
			bucketInt.Add(1)
		}
	}
	if infInt, ok := histMap.Get("le_inf").(*expvar.Int); ok {
		infInt.Add(1)
	}
}

// publishExpvarInt returns the expvar.Int registered under name, resetting it
// if it already exists. It panics if name holds a different type.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

// publishExpvarMap returns the expvar.Map registered under name. The caller
// resets its members.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}
