package metrics

import (
	"runtime"
	"sync"
	"time"
)

// memStatsTTL bounds how often a scrape calls runtime.ReadMemStats.
const memStatsTTL = time.Second

// runtimeStats caches runtime.MemStats so one scrape stops the world once.
type runtimeStats struct {
	mu     sync.Mutex
	readAt time.Time
	mem    runtime.MemStats
}

func (rs *runtimeStats) get(fn func(*runtime.MemStats) float64) func() float64 {
	return func() float64 {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		if time.Since(rs.readAt) > memStatsTTL {
			runtime.ReadMemStats(&rs.mem)
			rs.readAt = time.Now()
		}
		return fn(&rs.mem)
	}
}

// RegisterRuntime registers Go runtime gauges and process uptime on r.
func RegisterRuntime(r *Registry, startedAt time.Time) {
	rs := &runtimeStats{}

	r.NewGaugeFunc("go_goroutines", "Number of goroutines that currently exist",
		func() float64 { return float64(runtime.NumGoroutine()) })
	r.NewGaugeFunc("go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use",
		rs.get(func(m *runtime.MemStats) float64 { return float64(m.HeapAlloc) }))
	r.NewGaugeFunc("go_memstats_heap_inuse_bytes", "Number of heap bytes that are in use",
		rs.get(func(m *runtime.MemStats) float64 { return float64(m.HeapInuse) }))
	r.NewGaugeFunc("go_gc_cycles_total", "Total number of completed GC cycles",
		rs.get(func(m *runtime.MemStats) float64 { return float64(m.NumGC) }))
	r.NewGaugeFunc("go_gc_duration_seconds", "Total GC pause duration in seconds",
		rs.get(func(m *runtime.MemStats) float64 { return float64(m.PauseTotalNs) / 1e9 }))

	info := r.NewGauge("go_info", "Information about the Go environment", "version")
	if vec, err := info.WithLabels(runtime.Version()); err == nil {
		vec.Set(1)
	}

	r.NewGaugeFunc(namespace+"_uptime_seconds", "Process uptime in seconds",
		func() float64 { return time.Since(startedAt).Seconds() })
}
