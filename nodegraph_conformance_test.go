package nodegraph_test

import (
	"context"

	"testing"

	"github.com/opgraph/incremental"
	"github.com/opgraph/incremental/nodegraphtest"
)

// TestConformance runs the shared nodegraphtest suite against the concrete
// NodeGraph, using a NodeEvaluator that just returns the node's own id as
// its payload.
func TestConformance(t *testing.T) {
	nodegraphtest.Run(t, func() nodegraph.NodeEvaluator {
		return nodegraph.NodeEvaluatorFunc(func(ctx context.Context, ec nodegraph.EvaluationContext) (nodegraph.CachePayload, error) {
			return ec.Node, nil
		})
	})
}
