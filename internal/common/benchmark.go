package common

import (
	"fmt"
	"runtime"
	"sort"
	"time"
)

// MemoryStats holds the heap figures reported by benchmarks.
type MemoryStats struct {
	Alloc         uint64
	TotalAlloc    uint64
	Sys           uint64
	Mallocs       uint64
	HeapObjects   uint64
	NumGC         uint32
	GCCPUFraction float64
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:         m.Alloc,
		TotalAlloc:    m.TotalAlloc,
		Sys:           m.Sys,
		Mallocs:       m.Mallocs,
		HeapObjects:   m.HeapObjects,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
	}
}

// String returns a formatted string representation of memory stats.
func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.Alloc/1024,
		m.TotalAlloc/1024,
		m.Sys/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// BenchmarkResult holds the outcome of Benchmark.
type BenchmarkResult struct {
	Name         string
	Duration     time.Duration
	Min          time.Duration
	Median       time.Duration
	Max          time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Iterations   int
	Error        error
}

// AllocsPerIteration returns the average number of heap allocations per
// iteration.
func (br BenchmarkResult) AllocsPerIteration() float64 {
	if br.Iterations == 0 {
		return 0
	}
	return float64(br.MemoryAfter.Mallocs-br.MemoryBefore.Mallocs) / float64(br.Iterations)
}

// String returns a formatted string representation of the benchmark result.
func (br BenchmarkResult) String() string {
	if br.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", br.Name, br.Error)
	}
	if br.Iterations == 0 {
		return fmt.Sprintf("%s: no iterations", br.Name)
	}

	avgDuration := br.Duration / time.Duration(br.Iterations)
	return fmt.Sprintf("%s: %d iterations, avg: %v, median: %v, min: %v, max: %v, total: %v, allocs/op: %.1f",
		br.Name, br.Iterations, avgDuration, br.Median, br.Min, br.Max, br.Duration, br.AllocsPerIteration())
}

// Benchmark runs fn iterations times and records per-iteration timings.
// It stops at the first error.
func Benchmark(name string, iterations int, fn func() error) BenchmarkResult {
	res := BenchmarkResult{Name: name, MemoryBefore: GetMemoryStats()}
	samples := make([]time.Duration, 0, iterations)

	for range iterations {
		t := NewNamedTimer(name)
		if err := fn(); err != nil {
			res.Error = err
			break
		}
		samples = append(samples, t.Stop())
	}

	res.MemoryAfter = GetMemoryStats()
	res.Iterations = len(samples)
	if len(samples) == 0 {
		return res
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	for _, d := range samples {
		res.Duration += d
	}
	res.Min = samples[0]
	res.Max = samples[len(samples)-1]
	res.Median = samples[len(samples)/2]
	return res
}
