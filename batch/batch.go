/*
Package batch lets a caller record a sequence of [nodegraph.NodeGraph]
mutations as serialisable [Step] values, then replay them later, possibly
in a different process. This is useful for capturing an edit session (a
sequence of node/edge/parameter changes) durably, or for shipping a batch
of changes computed elsewhere to the process that owns the live graph.

A [Recorder] accumulates steps in domain terms (AddNode, AddDependency,
...) without touching a graph; [Replay] turns a recorded (or decoded)
sequence back into a function that applies them in order.
*/
package batch

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"iter"

	"github.com/opgraph/incremental"
	"github.com/opgraph/incremental/fanout"
)

// Step represents a single atomic mutation on a [nodegraph.NodeGraph].
//
// All Step implementations are registered with gob in this package's
// init() so a []Step can cross process boundaries via [Encode]/[Decode].
// Every Step accepts a [fanout.Classifier], even though most ignore it;
// only the relationship-cardinality steps need one, and classification is
// a property of the graph as a whole rather than of any one step, so
// [Replay] threads a single Classifier through the whole batch.
type Step interface {
	do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error
	// Targets yields every node id this step touches.
	Targets() iter.Seq[nodegraph.NodeId]
}

// Encode serialises a slice of Steps for storage or transmission.
func Encode(steps []Step) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&steps); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reconstructs a slice of Steps from data produced by [Encode].
func Decode(data []byte) ([]Step, error) {
	var steps []Step
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&steps); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return steps, nil
}

// Recorder collects a sequence of [nodegraph.NodeGraph] mutations without
// applying them to any graph. The zero value is ready to use; do not copy
// a non-zero Recorder.
type Recorder struct {
	steps []Step
}

// Reset discards all recorded steps.
func (r *Recorder) Reset() {
	r.steps = nil
}

// Steps returns a copy of the steps recorded so far.
func (r *Recorder) Steps() []Step {
	s := make([]Step, len(r.steps))
	copy(s, r.steps)
	return s
}

// AddNode records an AddNode mutation.
func (r *Recorder) AddNode(id nodegraph.NodeId) {
	r.steps = append(r.steps, addNode{ID: id})
}

// RemoveNode records a RemoveNode mutation.
func (r *Recorder) RemoveNode(id nodegraph.NodeId) {
	r.steps = append(r.steps, removeNode{ID: id})
}

// AddDependency records an AddDependency mutation.
func (r *Recorder) AddDependency(from, to nodegraph.NodeId) {
	r.steps = append(r.steps, addDependency{From: from, To: to})
}

// RemoveDependency records a RemoveDependency mutation.
func (r *Recorder) RemoveDependency(from, to nodegraph.NodeId) {
	r.steps = append(r.steps, removeDependency{From: from, To: to})
}

// UpdateParameter records an UpdateParameter mutation. value must be a gob
// encodable type if the recorded batch will be transmitted with [Encode].
func (r *Recorder) UpdateParameter(id nodegraph.NodeId, name string, value any) {
	r.steps = append(r.steps, updateParameter{ID: id, Name: name, Value: value})
}

// AssertOneToOne records a [fanout.Fanout.OneToOne] cardinality assertion.
func (r *Recorder) AssertOneToOne(source, target nodegraph.NodeId) {
	r.steps = append(r.steps, assertOneToOne{Source: source, Target: target})
}

// AssertOneToMany records a [fanout.Fanout.OneToMany] cardinality assertion.
func (r *Recorder) AssertOneToMany(source, target nodegraph.NodeId) {
	r.steps = append(r.steps, assertOneToMany{Source: source, Target: target})
}

// AssertManyToOne records a [fanout.Fanout.ManyToOne] cardinality assertion.
func (r *Recorder) AssertManyToOne(source, target nodegraph.NodeId) {
	r.steps = append(r.steps, assertManyToOne{Source: source, Target: target})
}

// AssertManyToMany records a [fanout.Fanout.ManyToMany] cardinality assertion.
func (r *Recorder) AssertManyToMany(source, target nodegraph.NodeId) {
	r.steps = append(r.steps, assertManyToMany{Source: source, Target: target})
}

// Replay returns a function that applies steps to g in order, stopping at
// the first error. classify is consulted only by steps recorded through
// one of the Recorder's cardinality-assertion methods; pass nil if the
// batch contains none. Already-applied steps are not rolled back; the
// caller decides how to react to a partial batch.
func Replay(steps []Step, classify fanout.Classifier) func(ctx context.Context, g *nodegraph.NodeGraph) error {
	return func(ctx context.Context, g *nodegraph.NodeGraph) error {
		for i, step := range steps {
			if err := step.do(ctx, g, classify); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
		return nil
	}
}

// Targets iterates over every distinct node id touched by steps, in the
// order first encountered.
func Targets(steps []Step) iter.Seq[nodegraph.NodeId] {
	return func(yield func(nodegraph.NodeId) bool) {
		seen := make(map[nodegraph.NodeId]struct{})
		for _, step := range steps {
			for target := range step.Targets() {
				if _, ok := seen[target]; ok {
					continue
				}
				seen[target] = struct{}{}
				if !yield(target) {
					return
				}
			}
		}
	}
}
