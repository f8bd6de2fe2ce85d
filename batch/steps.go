package batch

import (
	"context"
	"encoding/gob"
	"iter"

	"github.com/opgraph/incremental"
	"github.com/opgraph/incremental/fanout"
)

func init() {
	gob.Register(addNode{})
	gob.Register(removeNode{})
	gob.Register(addDependency{})
	gob.Register(removeDependency{})
	gob.Register(updateParameter{})
	gob.Register(assertOneToOne{})
	gob.Register(assertOneToMany{})
	gob.Register(assertManyToOne{})
	gob.Register(assertManyToMany{})
}

func single(id nodegraph.NodeId) iter.Seq[nodegraph.NodeId] {
	return func(yield func(nodegraph.NodeId) bool) {
		yield(id)
	}
}

func pair(a, b nodegraph.NodeId) iter.Seq[nodegraph.NodeId] {
	return func(yield func(nodegraph.NodeId) bool) {
		if !yield(a) {
			return
		}
		yield(b)
	}
}

type addNode struct {
	ID nodegraph.NodeId
}

func (s addNode) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return g.AddNode(s.ID)
}

func (s addNode) Targets() iter.Seq[nodegraph.NodeId] { return single(s.ID) }

type removeNode struct {
	ID nodegraph.NodeId
}

func (s removeNode) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return g.RemoveNode(s.ID)
}

func (s removeNode) Targets() iter.Seq[nodegraph.NodeId] { return single(s.ID) }

type addDependency struct {
	From, To nodegraph.NodeId
}

func (s addDependency) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return g.AddDependency(s.From, s.To)
}

func (s addDependency) Targets() iter.Seq[nodegraph.NodeId] { return pair(s.From, s.To) }

type removeDependency struct {
	From, To nodegraph.NodeId
}

func (s removeDependency) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return g.RemoveDependency(s.From, s.To)
}

func (s removeDependency) Targets() iter.Seq[nodegraph.NodeId] { return pair(s.From, s.To) }

type updateParameter struct {
	ID    nodegraph.NodeId
	Name  string
	Value any
}

func (s updateParameter) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return g.UpdateParameter(ctx, s.ID, s.Name, s.Value)
}

func (s updateParameter) Targets() iter.Seq[nodegraph.NodeId] { return single(s.ID) }

// relationshipStep is the shared shape of the four cardinality-flavored
// steps below; each only differs in which [fanout.Fanout] method it calls.
// Classifying a node is a graph-wide concern, not a per-step one, so these
// steps carry only the endpoints and rely on the [fanout.Classifier]
// threaded through by [Replay] to tell nodes apart at replay time.
type relationshipStep struct {
	Source nodegraph.NodeId
	Target nodegraph.NodeId
}

type assertOneToOne relationshipStep

func (s assertOneToOne) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return fanout.Graph(g, classify).OneToOne(ctx, s.Source, s.Target)
}

func (s assertOneToOne) Targets() iter.Seq[nodegraph.NodeId] { return pair(s.Source, s.Target) }

type assertOneToMany relationshipStep

func (s assertOneToMany) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return fanout.Graph(g, classify).OneToMany(ctx, s.Source, s.Target)
}

func (s assertOneToMany) Targets() iter.Seq[nodegraph.NodeId] { return pair(s.Source, s.Target) }

type assertManyToOne relationshipStep

func (s assertManyToOne) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return fanout.Graph(g, classify).ManyToOne(ctx, s.Source, s.Target)
}

func (s assertManyToOne) Targets() iter.Seq[nodegraph.NodeId] { return pair(s.Source, s.Target) }

type assertManyToMany relationshipStep

func (s assertManyToMany) do(ctx context.Context, g *nodegraph.NodeGraph, classify fanout.Classifier) error {
	return fanout.Graph(g, classify).ManyToMany(ctx, s.Source, s.Target)
}

func (s assertManyToMany) Targets() iter.Seq[nodegraph.NodeId] { return pair(s.Source, s.Target) }
