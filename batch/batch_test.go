package batch_test

import (
	"context"
	"encoding/gob"
	"fmt"

	"github.com/opgraph/incremental"
	"github.com/opgraph/incremental/batch"
	"github.com/opgraph/incremental/fanout"
)

func init() {
	// Values recorded through Recorder.UpdateParameter travel inside an
	// any field, so gob needs every concrete type used that way registered
	// up front, exactly as it needs for any other interface-typed field.
	gob.Register(0)
}

func noopEvaluator() nodegraph.NodeEvaluatorFunc {
	return func(ctx context.Context, ec nodegraph.EvaluationContext) (nodegraph.CachePayload, error) {
		return 0, nil
	}
}

// We demonstrate the full lifecycle of a Recorder: capturing a sequence of
// graph mutations, encoding them for transmission, decoding them in a
// "receiving" process, and replaying them against a live graph.
func ExampleRecorder() {
	var recorder batch.Recorder
	recorder.AddNode("a")
	recorder.AddNode("b")
	recorder.AddDependency("a", "b")
	recorder.UpdateParameter("a", "threshold", 42)

	steps := recorder.Steps()
	fmt.Printf("recorded %d steps\n", len(steps))

	encoded, err := batch.Encode(steps)
	if err != nil {
		panic(err)
	}

	decoded, err := batch.Decode(encoded)
	if err != nil {
		panic(err)
	}
	fmt.Printf("decoded %d steps\n", len(decoded))

	g, err := nodegraph.New(noopEvaluator(), nodegraph.DefaultMemoryLimit)
	if err != nil {
		panic(err)
	}
	apply := batch.Replay(decoded, nil)
	if err := apply(context.Background(), g); err != nil {
		panic(err)
	}

	fmt.Println("node count:", g.NodeCount())
	fmt.Println("a -> b:", g.HasDependency("a", "b"))

	recorder.Reset()
	fmt.Println("steps after reset:", len(recorder.Steps()))

	// Output:
	// recorded 4 steps
	// decoded 4 steps
	// node count: 2
	// a -> b: true
	// steps after reset: 0
}

// We demonstrate recording cardinality-constrained relationship steps and
// replaying them with a Classifier supplied at replay time rather than
// captured when the step was recorded: asserting a second one-to-one
// relationship to the same passport retracts the first.
func ExampleRecorder_relationshipAssertions() {
	var recorder batch.Recorder
	recorder.AssertOneToOne("alice", "passport-alice")
	recorder.AssertOneToOne("bob", "passport-alice")

	classify := func(id nodegraph.NodeId) fanout.NodeKind {
		switch id {
		case "alice", "bob":
			return "person"
		default:
			return "passport"
		}
	}

	g, err := nodegraph.New(noopEvaluator(), nodegraph.DefaultMemoryLimit)
	if err != nil {
		panic(err)
	}
	for _, id := range []nodegraph.NodeId{"alice", "bob", "passport-alice"} {
		if err := g.AddNode(id); err != nil {
			panic(err)
		}
	}

	apply := batch.Replay(recorder.Steps(), classify)
	if err := apply(context.Background(), g); err != nil {
		panic(err)
	}

	fmt.Println("alice -> passport:", g.HasDependency("alice", "passport-alice"))
	fmt.Println("bob -> passport:", g.HasDependency("bob", "passport-alice"))

	// Output:
	// alice -> passport: false
	// bob -> passport: true
}

// We demonstrate how Targets yields the deduplicated set of nodes touched
// by a batch, in order of first appearance, regardless of how many times
// or through which operation a node is mentioned.
func ExampleTargets() {
	var recorder batch.Recorder
	recorder.AddNode("a")
	recorder.AddNode("a")
	recorder.AddDependency("a", "b")
	recorder.AddDependency("b", "c")
	recorder.RemoveNode("c")

	for target := range batch.Targets(recorder.Steps()) {
		fmt.Println(target)
	}

	// Output:
	// a
	// b
	// c
}
