/*
Package fanout provides syntax sugar for establishing dependency edges
between nodes of a [nodegraph.NodeGraph] according to common cardinality
patterns: one-to-one, one-to-many, many-to-one, and many-to-many.

Nodes are classified into kinds by a caller-supplied [Classifier]; a
cardinality constraint is enforced between a source node and the kind of
its target (or vice versa), mirroring how a caller would otherwise have to
retract and re-add dependency edges by hand to keep a graph's shape
consistent as it's built up incrementally.
*/
package fanout

import (
	"context"
	"fmt"

	"github.com/opgraph/incremental"
)

// NodeKind classifies a node for the purpose of cardinality enforcement,
// e.g. "texture", "transform", "output".
type NodeKind string

// Classifier reports the kind of a node. A Fanout's Classifier must
// classify every node it's asked about consistently; see [Fanout] for the
// consequence of violating that.
type Classifier func(nodegraph.NodeId) NodeKind

// Fanout wraps a [nodegraph.NodeGraph] with cardinality-constrained
// dependency assertions.
//
// When asserting relationships between a source and a target node, the
// relationship must hold for every pair of nodes of the same two kinds:
// every source of the target's kind and target of the source's kind must
// always be connected through the same cardinality assertion. Asserting
// conflicting cardinalities for the same pair of kinds panics; the
// violation is detected by observing more dependency edges than the
// asserted cardinality permits, not by tracking kinds explicitly.
type Fanout struct {
	graph   *nodegraph.NodeGraph
	classBy Classifier
}

// Graph returns a Fanout enforcing cardinality over the given node graph,
// classifying nodes with classify.
func Graph(g *nodegraph.NodeGraph, classify Classifier) Fanout {
	return Fanout{graph: g, classBy: classify}
}

// OneToOne asserts a strict one-to-one dependency: source is depended on by
// at most one node of target's kind, and target depends on at most one node
// of source's kind. Prior conflicting edges are retracted first.
//
// Panics if, during retraction, more than one edge in either direction was
// found, which indicates the graph had already violated the one-to-one
// constraint before this call.
func (f Fanout) OneToOne(ctx context.Context, source, target nodegraph.NodeId) error {
	removedFrom, err := f.retractEdgesFrom(source, f.classBy(target))
	if err != nil {
		return fmt.Errorf("retract edges from: %w", err)
	} else if removedFrom > 1 {
		panic(newIntegrityError("one-to-one", "from source", removedFrom))
	}

	removedTo, err := f.retractEdgesTo(target, f.classBy(source))
	if err != nil {
		return fmt.Errorf("retract edges to: %w", err)
	} else if removedTo > 1 {
		panic(newIntegrityError("one-to-one", "to target", removedTo))
	}

	return f.graph.AddDependency(source, target)
}

// OneToMany asserts that target depends on at most one node of source's
// kind, while source may be depended on by any number of nodes of target's
// kind.
//
// Panics if more than one prior edge to target was found.
func (f Fanout) OneToMany(ctx context.Context, source, target nodegraph.NodeId) error {
	removedTo, err := f.retractEdgesTo(target, f.classBy(source))
	if err != nil {
		return fmt.Errorf("retract edges to: %w", err)
	} else if removedTo > 1 {
		panic(newIntegrityError("one-to-many", "to target", removedTo))
	}

	return f.graph.AddDependency(source, target)
}

// ManyToOne asserts that source is depended on by at most one node of
// target's kind, while target may depend on any number of nodes of
// source's kind.
//
// Panics if more than one prior edge from source was found.
func (f Fanout) ManyToOne(ctx context.Context, source, target nodegraph.NodeId) error {
	removedFrom, err := f.retractEdgesFrom(source, f.classBy(target))
	if err != nil {
		return fmt.Errorf("retract edges from: %w", err)
	} else if removedFrom > 1 {
		panic(newIntegrityError("many-to-one", "from source", removedFrom))
	}

	return f.graph.AddDependency(source, target)
}

// ManyToMany asserts a dependency edge without retracting any existing
// ones; any number of nodes of either kind may be connected.
func (f Fanout) ManyToMany(ctx context.Context, source, target nodegraph.NodeId) error {
	return f.graph.AddDependency(source, target)
}

// retractEdgesFrom removes every dependency edge from node to a node of
// kind k, returning how many were removed.
func (f Fanout) retractEdgesFrom(node nodegraph.NodeId, k NodeKind) (int, error) {
	dependents, err := f.graph.Dependents(node)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, dep := range dependents {
		if f.classBy(dep) != k {
			continue
		}
		if err := f.graph.RemoveDependency(node, dep); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// retractEdgesTo removes every dependency edge to node from a node of kind
// k, returning how many were removed.
func (f Fanout) retractEdgesTo(node nodegraph.NodeId, k NodeKind) (int, error) {
	dependencies, err := f.graph.Dependencies(node)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, dep := range dependencies {
		if f.classBy(dep) != k {
			continue
		}
		if err := f.graph.RemoveDependency(dep, node); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func newIntegrityError(relationship, direction string, affectedEdges int) error {
	return fmt.Errorf("inconsistent graph detected: relationship %v was violated with %v affected edges %v", relationship, affectedEdges, direction)
}
