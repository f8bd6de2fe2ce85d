package nodegraph

import (
	"context"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
)

// maxEvaluationHistory bounds how many evaluation spans PerformanceMonitor
// keeps in memory; older spans are discarded in FIFO order.
const maxEvaluationHistory = 500

// trendWindow is how many of the most recent evaluation spans Trend
// considers when computing a slope.
const trendWindow = 20

// EvaluationHandle is returned by [PerformanceMonitor.BeginEvaluation] and
// passed back to [PerformanceMonitor.CompleteEvaluation]. Its zero value is
// a valid, if degraded, handle: completing it records a zero-duration span
// rather than failing.
type EvaluationHandle struct {
	start time.Time
}

// evaluationSpan is one completed evaluate() call.
type evaluationSpan struct {
	start, end    time.Time
	nodesTouched  int
	duration      time.Duration
	parallelLevel int
	succeeded     bool
}

// Direction is the outcome of [PerformanceMonitor.Trend].
type Direction int

const (
	Stable Direction = iota
	Improving
	Degrading
)

func (d Direction) String() string {
	switch d {
	case Improving:
		return "improving"
	case Degrading:
		return "degrading"
	default:
		return "stable"
	}
}

// Bottleneck summarises the evaluations whose duration exceeded a
// threshold given to [PerformanceMonitor.Bottlenecks].
type Bottleneck struct {
	Count           int
	AverageDuration time.Duration
	TotalDuration   time.Duration
}

// PerformanceMetrics is a snapshot of [PerformanceMonitor]'s aggregate
// counters.
type PerformanceMetrics struct {
	TotalEvaluations        int64
	TotalEvaluationTime     time.Duration
	AverageEvaluationTime   time.Duration
	AverageNodesPerEvaluation float64
	ParameterUpdates        int64
	StructuralEvents        int64
	PeakMemoryBytes         int64
	CacheHits               int64
	CacheMisses             int64
	CacheHitRate            float64
}

// PerformanceMonitor maintains bounded, in-memory histories of
// parameter-update counts, evaluation spans, cache hits/misses, and
// reported memory usage, answering queries used for optimisation decisions.
//
// Recording methods return [InvalidArgument] only for a small set of
// programmer-error inputs (empty names, negative counts or byte counts), so
// the mistake is visible to the immediate caller. A CompleteEvaluation
// without a matching BeginEvaluation is still recorded, with zero
// duration, and logged.
//
// A PerformanceMonitor is safe for concurrent use.
type PerformanceMonitor struct {
	mu sync.Mutex

	paramUpdates map[paramKey]int64
	totalParams  int64

	structuralEvents int64

	spans []evaluationSpan

	cacheHits, cacheMisses int64

	peakMemory, currentMemory int64
}

type paramKey struct {
	node  NodeId
	param string
}

// NewPerformanceMonitor returns an empty monitor.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{
		paramUpdates: make(map[paramKey]int64),
	}
}

// BeginEvaluation returns a handle to be passed to CompleteEvaluation once
// the evaluation finishes.
func (m *PerformanceMonitor) BeginEvaluation() EvaluationHandle {
	return EvaluationHandle{start: time.Now()}
}

// CompleteEvaluation records one evaluation span. nodesTouched and
// parallelLevel must be non-negative. If handle is the zero value (no
// matching BeginEvaluation call), the span is still recorded with zero
// duration, and the degraded recording is logged.
func (m *PerformanceMonitor) CompleteEvaluation(ctx context.Context, handle EvaluationHandle, nodesTouched int, parallelLevel int, succeeded bool) error {
	if nodesTouched < 0 {
		return newError(InvalidArgument, "nodesTouched must be non-negative")
	}
	if parallelLevel < 0 {
		return newError(InvalidArgument, "parallelLevel must be non-negative")
	}

	now := time.Now()
	var duration time.Duration
	degraded := handle.start.IsZero()
	if !degraded {
		duration = now.Sub(handle.start)
	}

	m.mu.Lock()
	if degraded {
		m.logDegraded(ctx)
	}
	m.spans = append(m.spans, evaluationSpan{
		start:         handle.start,
		end:           now,
		nodesTouched:  nodesTouched,
		duration:      duration,
		parallelLevel: parallelLevel,
		succeeded:     succeeded,
	})
	if len(m.spans) > maxEvaluationHistory {
		m.spans = m.spans[len(m.spans)-maxEvaluationHistory:]
	}
	m.mu.Unlock()
	return nil
}

func (m *PerformanceMonitor) logDegraded(ctx context.Context) {
	component.Logger(ctx).WarnContext(ctx, "performance monitor: completed evaluation without a matching begin, recording zero duration")
}

// RecordParameterUpdate increments the update count for (node, param).
// Both must be non-empty.
func (m *PerformanceMonitor) RecordParameterUpdate(ctx context.Context, node NodeId, param string) error {
	if blank(string(node)) {
		return newError(InvalidArgument, "node id is empty")
	}
	if blank(param) {
		return newError(InvalidArgument, "parameter name is empty")
	}
	m.mu.Lock()
	m.paramUpdates[paramKey{node, param}]++
	m.totalParams++
	m.mu.Unlock()
	parameterUpdates.Add(ctx, 1)
	return nil
}

// RecordStructuralEvent increments the count of structural graph mutations
// (currently: node insertions) the monitor has observed.
func (m *PerformanceMonitor) RecordStructuralEvent() {
	m.mu.Lock()
	m.structuralEvents++
	m.mu.Unlock()
}

// RecordCacheAccess records a single cache hit or miss observed outside of
// an evaluation span (for example by a caller probing the cache directly).
func (m *PerformanceMonitor) RecordCacheAccess(hit bool) {
	m.mu.Lock()
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
	m.mu.Unlock()
}

// RecordCacheAccesses adds hits and misses accumulated over one evaluation
// to the running totals in bulk. Both must be non-negative.
func (m *PerformanceMonitor) RecordCacheAccesses(hits, misses int64) error {
	if hits < 0 || misses < 0 {
		return newError(InvalidArgument, "hits and misses must be non-negative")
	}
	m.mu.Lock()
	m.cacheHits += hits
	m.cacheMisses += misses
	m.mu.Unlock()
	return nil
}

// ReportMemory records the caller-observed current byte usage, updating
// the peak if current exceeds it. current must be non-negative.
func (m *PerformanceMonitor) ReportMemory(current int64) error {
	if current < 0 {
		return newError(InvalidArgument, "current bytes must be non-negative")
	}
	m.mu.Lock()
	m.currentMemory = current
	if current > m.peakMemory {
		m.peakMemory = current
	}
	m.mu.Unlock()
	return nil
}

// Reset zeroes every counter and discards recorded history.
func (m *PerformanceMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paramUpdates = make(map[paramKey]int64)
	m.totalParams = 0
	m.structuralEvents = 0
	m.spans = nil
	m.cacheHits, m.cacheMisses = 0, 0
	m.peakMemory, m.currentMemory = 0, 0
}

// Metrics returns an aggregate snapshot of this monitor's counters.
func (m *PerformanceMonitor) Metrics() PerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totalDuration time.Duration
	var totalNodes int64
	for _, s := range m.spans {
		totalDuration += s.duration
		totalNodes += int64(s.nodesTouched)
	}
	n := int64(len(m.spans))

	metrics := PerformanceMetrics{
		TotalEvaluations:    n,
		TotalEvaluationTime: totalDuration,
		ParameterUpdates:    m.totalParams,
		StructuralEvents:    m.structuralEvents,
		PeakMemoryBytes:     m.peakMemory,
		CacheHits:           m.cacheHits,
		CacheMisses:         m.cacheMisses,
	}
	if n > 0 {
		metrics.AverageEvaluationTime = totalDuration / time.Duration(n)
		metrics.AverageNodesPerEvaluation = float64(totalNodes) / float64(n)
	}
	if total := m.cacheHits + m.cacheMisses; total > 0 {
		metrics.CacheHitRate = float64(m.cacheHits) / float64(total)
	}
	return metrics
}

// Trend reports the direction of the last trendWindow evaluation durations
// (fewer if that many haven't been recorded yet), computed from the slope
// of a simple least-squares fit. Fewer than two samples is reported as
// Stable.
func (m *PerformanceMonitor) Trend() Direction {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.spans)
	if n > trendWindow {
		n = trendWindow
	}
	if n < 2 {
		return Stable
	}
	window := m.spans[len(m.spans)-n:]

	var sumX, sumY, sumXY, sumXX float64
	for i, s := range window {
		x := float64(i)
		y := float64(s.duration)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return Stable
	}
	slope := (fn*sumXY - sumX*sumY) / denom

	mean := sumY / fn
	var relative float64
	if mean > 0 {
		relative = slope / mean
	}
	const epsilon = 0.02 // ignore slopes within 2% of the mean per sample
	switch {
	case relative > epsilon:
		return Degrading
	case relative < -epsilon:
		return Improving
	default:
		return Stable
	}
}

// Bottlenecks returns a summary of evaluations whose duration exceeded
// threshold.
func (m *PerformanceMonitor) Bottlenecks(threshold time.Duration) Bottleneck {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b Bottleneck
	for _, s := range m.spans {
		if s.duration > threshold {
			b.Count++
			b.TotalDuration += s.duration
		}
	}
	if b.Count > 0 {
		b.AverageDuration = b.TotalDuration / time.Duration(b.Count)
	}
	return b
}
