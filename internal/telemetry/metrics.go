package telemetry

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts /solve traffic for the health endpoint and mirrors the counts
// to the global meter.
type Metrics struct {
	started      time.Time
	total        atomic.Int64
	failed       atomic.Int64
	succeeded    atomic.Int64
	latencyNanos atomic.Int64
	activeRuns   atomic.Int64

	requests metric.Int64Counter
	latency  metric.Float64Histogram
	runs     metric.Int64Counter
}

type Snapshot struct {
	RequestsTotal     int64   `json:"requestsTotal"`
	RequestsFailed    int64   `json:"requestsFailed"`
	RequestsSucceeded int64   `json:"requestsSucceeded"`
	AvgLatencyMs      float64 `json:"avgLatencyMs"`
	ActiveRuns        int64   `json:"activeRuns"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
}

type MemorySnapshot struct {
	AllocBytes     uint64 `json:"allocBytes"`
	HeapInuseBytes uint64 `json:"heapInuseBytes"`
	SysBytes       uint64 `json:"sysBytes"`
	NumGC          uint32 `json:"numGC"`
	Goroutines     int    `json:"goroutines"`
}

func NewMetrics(now time.Time) *Metrics {
	meter := Meter("github.com/22f2001388/llm-analysis-quiz/telemetry")
	m := &Metrics{started: now}
	m.requests, _ = meter.Int64Counter("quiz.requests", metric.WithDescription("solve requests by result"))
	m.latency, _ = meter.Float64Histogram("quiz.request.latency", metric.WithUnit("ms"))
	m.runs, _ = meter.Int64Counter("quiz.runs", metric.WithDescription("finished chain runs by status"))
	return m
}

func (m *Metrics) RecordRequest(ctx context.Context, latency time.Duration, ok bool) {
	m.total.Add(1)
	m.latencyNanos.Add(int64(latency))
	result := "failed"
	if ok {
		m.succeeded.Add(1)
		result = "accepted"
	} else {
		m.failed.Add(1)
	}
	if m.requests != nil {
		m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(latency)/float64(time.Millisecond))
	}
}

func (m *Metrics) RunStarted() {
	m.activeRuns.Add(1)
}

func (m *Metrics) RunFinished(ctx context.Context, status string) {
	m.activeRuns.Add(-1)
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (m *Metrics) Snapshot(now time.Time) Snapshot {
	total := m.total.Load()
	avg := 0.0
	if total > 0 {
		avg = float64(m.latencyNanos.Load()) / float64(total) / float64(time.Millisecond)
	}
	return Snapshot{
		RequestsTotal:     total,
		RequestsFailed:    m.failed.Load(),
		RequestsSucceeded: m.succeeded.Load(),
		AvgLatencyMs:      avg,
		ActiveRuns:        m.activeRuns.Load(),
		UptimeSeconds:     now.Sub(m.started).Seconds(),
	}
}

func ReadMemory() MemorySnapshot {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return MemorySnapshot{
		AllocBytes:     stats.Alloc,
		HeapInuseBytes: stats.HeapInuse,
		SysBytes:       stats.Sys,
		NumGC:          stats.NumGC,
		Goroutines:     runtime.NumGoroutine(),
	}
}
