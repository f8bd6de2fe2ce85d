package nodegraph

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// NodeEvaluator computes the output of a single node given its current
// parameters and the (already-evaluated) outputs of its dependencies. It is
// the only part of this package that knows what a node actually does.
//
// Implementations must be safe for concurrent use: [TopologicalEvaluator]
// may call Evaluate for independent nodes within the same wave
// concurrently.
type NodeEvaluator interface {
	Evaluate(ctx context.Context, ec EvaluationContext) (CachePayload, error)
}

// NodeEvaluatorFunc adapts a function to a [NodeEvaluator].
type NodeEvaluatorFunc func(ctx context.Context, ec EvaluationContext) (CachePayload, error)

func (f NodeEvaluatorFunc) Evaluate(ctx context.Context, ec EvaluationContext) (CachePayload, error) {
	return f(ctx, ec)
}

// EvaluationContext is passed to a [NodeEvaluator] for one node. It exposes
// the dependency outputs already computed or served from cache this
// evaluation, keyed by dependency node id.
type EvaluationContext struct {
	Node         NodeId
	Dependencies map[NodeId]CachePayload
}

// Output returns the cached or freshly computed output of dependency dep,
// and false if dep was not among this node's dependencies.
func (ec EvaluationContext) Output(dep NodeId) (CachePayload, bool) {
	v, ok := ec.Dependencies[dep]
	return v, ok
}

// EvaluationResult summarises one [TopologicalEvaluator.Evaluate] call.
type EvaluationResult struct {
	Success       bool
	VisitedNodes  []NodeId // nodes actually re-evaluated, in evaluation order
	CacheHits     int64
	CacheMisses   int64
	Elapsed       time.Duration
	ParallelLevel int // size of the widest wave evaluated concurrently
}

// DefaultMaxParallelism is the MaxParallelism a new TopologicalEvaluator
// starts with: how many nodes within a single topological wave it will
// evaluate concurrently. A MaxParallelism below 1 is treated as 1.
const DefaultMaxParallelism = 8

// TopologicalEvaluator recomputes dirty nodes in dependency order, serving
// everything else from cache. Within a single topological wave (a maximal
// set of nodes whose dependencies have all already settled), independent
// nodes are evaluated concurrently up to MaxParallelism, mirroring how the
// package's wider corpus fans work out with an errgroup bounded by a
// semaphore.
type TopologicalEvaluator struct {
	graph     *DependencyGraph
	dirty     *DirtyTracker
	cache     *Cache
	evaluator NodeEvaluator

	MaxParallelism int
}

// NewTopologicalEvaluator wires the four components an evaluation pass
// needs. evaluator must not be nil.
func NewTopologicalEvaluator(graph *DependencyGraph, dirty *DirtyTracker, cache *Cache, evaluator NodeEvaluator) (*TopologicalEvaluator, error) {
	if evaluator == nil {
		return nil, newError(InvalidArgument, "evaluator must not be nil")
	}
	return &TopologicalEvaluator{
		graph:          graph,
		dirty:          dirty,
		cache:          cache,
		evaluator:      evaluator,
		MaxParallelism: DefaultMaxParallelism,
	}, nil
}

// Evaluate recomputes every node currently marked dirty in the
// [DirtyTracker], in dependency order, and clears each node's dirty flag as
// its fresh output is stored in the [Cache].
//
// If ctx is cancelled mid-pass, Evaluate returns [ErrCancelled] as soon as
// the in-flight wave finishes; nodes already evaluated keep their fresh
// cache entries and cleared dirty flags, so a subsequent call resumes from
// where this one stopped. If a [NodeEvaluator] call returns an error,
// Evaluate stops after the current wave and returns an [*Error] of kind
// [NodeEvaluationFailed] naming the offending node; nodes evaluated in
// earlier waves keep their effects.
func (e *TopologicalEvaluator) Evaluate(ctx context.Context) (EvaluationResult, error) {
	start := time.Now()
	ctx, span := startEvaluationSpan(ctx)
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled before start")
		return EvaluationResult{}, newError(Cancelled, "context already done")
	}

	dirtyIDs := e.dirty.DirtyNodes()
	if len(dirtyIDs) == 0 {
		return EvaluationResult{Success: true}, nil
	}

	affected := map[NodeId]struct{}{}
	for _, id := range dirtyIDs {
		if !e.graph.ContainsNode(id) {
			continue
		}
		reachable, err := e.graph.Affected(id)
		if err != nil {
			continue
		}
		for _, a := range reachable {
			affected[a] = struct{}{}
		}
	}

	restrict := make(map[int]struct{}, len(affected))
	e.graph.mu.RLock()
	for id := range affected {
		if slot, ok := e.graph.index[id]; ok {
			restrict[slot] = struct{}{}
		}
	}
	order, err := e.graph.topologicalOrderLocked(restrict)
	e.graph.mu.RUnlock()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return EvaluationResult{}, err
	}

	waves := e.waves(order)

	result := EvaluationResult{}
	outputs := make(map[NodeId]CachePayload, len(order))
	var hits, misses atomic.Int64

	maxParallel := e.MaxParallelism
	if maxParallel < 1 {
		maxParallel = 1
	}

	for _, wave := range waves {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled mid-pass")
			result.Elapsed = time.Since(start)
			result.CacheHits, result.CacheMisses = hits.Load(), misses.Load()
			recordEvaluation(ctx, result.Elapsed, result.CacheHits, result.CacheMisses, false)
			return result, newError(Cancelled, "context done before evaluation completed")
		}
		if len(wave) > result.ParallelLevel {
			result.ParallelLevel = len(wave)
		}

		sem := semaphore.NewWeighted(int64(maxParallel))
		g, gctx := errgroup.WithContext(ctx)

		type waveOutcome struct {
			id      NodeId
			payload CachePayload
			skipped bool
		}
		outcomes := make([]waveOutcome, len(wave))

		started := 0
		for i, id := range wave {
			i, id := i, id
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			started++
			g.Go(func() error {
				defer sem.Release(1)
				payload, skipped, hit, evalErr := e.evaluateOne(gctx, id, outputs)
				if hit {
					hits.Add(1)
				} else if !skipped {
					misses.Add(1)
				}
				if evalErr != nil {
					return wrapError(NodeEvaluationFailed, id, "node evaluator returned an error", evalErr)
				}
				outcomes[i] = waveOutcome{id: id, payload: payload, skipped: skipped}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			result.Elapsed = time.Since(start)
			result.CacheHits, result.CacheMisses = hits.Load(), misses.Load()
			recordEvaluation(ctx, result.Elapsed, result.CacheHits, result.CacheMisses, false)
			return result, err
		}

		for _, oc := range outcomes[:started] {
			outputs[oc.id] = oc.payload
			if !oc.skipped {
				result.VisitedNodes = append(result.VisitedNodes, oc.id)
			}
		}
		if started < len(wave) {
			span.SetStatus(codes.Error, "cancelled mid-pass")
			result.Elapsed = time.Since(start)
			result.CacheHits, result.CacheMisses = hits.Load(), misses.Load()
			recordEvaluation(ctx, result.Elapsed, result.CacheHits, result.CacheMisses, false)
			return result, newError(Cancelled, "context done before evaluation completed")
		}
	}

	result.Success = true
	result.Elapsed = time.Since(start)
	result.CacheHits, result.CacheMisses = hits.Load(), misses.Load()
	span.SetAttributes(evaluationSpanAttributes(len(result.VisitedNodes), len(waves))...)
	recordEvaluation(ctx, result.Elapsed, result.CacheHits, result.CacheMisses, true)
	return result, nil
}

// evaluateOne resolves one node: served from cache if clean and present,
// otherwise invoked through the NodeEvaluator, stored, and marked clean.
func (e *TopologicalEvaluator) evaluateOne(ctx context.Context, id NodeId, outputs map[NodeId]CachePayload) (payload CachePayload, skipped bool, hit bool, err error) {
	if !e.dirty.IsDirty(id) {
		if v, ok := e.cache.Retrieve(id, DefaultSubKey); ok {
			return v, true, true, nil
		}
	}

	deps, err := e.graph.Dependencies(id)
	if err != nil {
		return nil, false, false, err
	}
	ec := EvaluationContext{Node: id, Dependencies: make(map[NodeId]CachePayload, len(deps))}
	for _, dep := range deps {
		if v, ok := outputs[dep]; ok {
			ec.Dependencies[dep] = v
			continue
		}
		if v, ok := e.cache.Retrieve(dep, DefaultSubKey); ok {
			ec.Dependencies[dep] = v
		}
	}

	v, err := e.evaluator.Evaluate(ctx, ec)
	if err != nil {
		return nil, false, false, err
	}
	if err := e.cache.Store(id, DefaultSubKey, v); err != nil {
		return nil, false, false, fmt.Errorf("store evaluated output: %w", err)
	}
	_ = e.dirty.MarkClean(id)
	return v, false, false, nil
}

// waves groups a topological order into maximal layers of nodes whose
// dependencies (restricted to the same order) have all already settled in
// an earlier layer, so each layer's nodes can be evaluated concurrently.
func (e *TopologicalEvaluator) waves(order []NodeId) [][]NodeId {
	inOrder := make(map[NodeId]struct{}, len(order))
	for _, id := range order {
		inOrder[id] = struct{}{}
	}
	layerOf := make(map[NodeId]int, len(order))
	var waves [][]NodeId

	for _, id := range order {
		layer := 0
		deps, _ := e.graph.Dependencies(id)
		for _, dep := range deps {
			if _, ok := inOrder[dep]; !ok {
				continue
			}
			if l := layerOf[dep] + 1; l > layer {
				layer = l
			}
		}
		layerOf[id] = layer
		for len(waves) <= layer {
			waves = append(waves, nil)
		}
		waves[layer] = append(waves[layer], id)
	}
	for _, w := range waves {
		sort.Slice(w, func(i, j int) bool { return w[i] < w[j] })
	}
	return waves
}

func evaluationSpanAttributes(nodes int, waves int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("nodegraph.nodes_evaluated", nodes),
		attribute.Int("nodegraph.waves", waves),
	}
}
