package nodegraph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("github.com/opgraph/incremental")
	meter  = otel.Meter("github.com/opgraph/incremental")
)

var (
	// evaluationDuration measures the wall-clock duration of a single
	// evaluate() call, labelled by whether it succeeded.
	evaluationDuration metric.Float64Histogram
	// cacheHits and cacheMisses count Cache accesses observed during
	// evaluation. Labelled by node id would be too high-cardinality for a
	// metrics backend, so these are unlabelled totals.
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	// parameterUpdates counts calls to NodeGraph.UpdateParameter.
	parameterUpdates metric.Int64Counter
)

func init() {
	var err error
	evaluationDuration, err = meter.Float64Histogram(
		"nodegraph.evaluation.duration",
		metric.WithDescription("Duration of a single evaluate() call."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("nodegraph: failed to init 'nodegraph.evaluation.duration' instrument")
	}

	cacheHits, err = meter.Int64Counter(
		"nodegraph.cache.hits",
		metric.WithDescription("Nodes served from cache during evaluation."),
	)
	if err != nil {
		panic("nodegraph: failed to init 'nodegraph.cache.hits' instrument")
	}

	cacheMisses, err = meter.Int64Counter(
		"nodegraph.cache.misses",
		metric.WithDescription("Nodes re-computed during evaluation instead of served from cache."),
	)
	if err != nil {
		panic("nodegraph: failed to init 'nodegraph.cache.misses' instrument")
	}

	parameterUpdates, err = meter.Int64Counter(
		"nodegraph.parameter.updates",
		metric.WithDescription("Calls to NodeGraph.UpdateParameter."),
	)
	if err != nil {
		panic("nodegraph: failed to init 'nodegraph.parameter.updates' instrument")
	}
}

// recordEvaluation emits the otel histogram/counters for one evaluate()
// call. It never fails: metric recording is always best-effort.
func recordEvaluation(ctx context.Context, d time.Duration, hits, misses int64, succeeded bool) {
	attrs := attribute.NewSet(attribute.Bool("success", succeeded))
	evaluationDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributeSet(attrs))
	if hits > 0 {
		cacheHits.Add(ctx, hits)
	}
	if misses > 0 {
		cacheMisses.Add(ctx, misses)
	}
}

// startEvaluationSpan starts an otel trace span for one evaluate() call.
func startEvaluationSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "nodegraph.Evaluate")
}
