/*
Package notify publishes fire-and-forget notifications about a
[nodegraph.NodeGraph]'s activity onto a [pubsub.Topic], and lets another
process subscribe to them. Nothing in this package is on the evaluation
critical path: a publish failure is logged and returned to the caller, but
never blocks or corrupts the graph itself.

Two event kinds can be published: [EvaluationCompleted], describing one
finished [nodegraph.TopologicalEvaluator.Evaluate] call, and
[NodeInvalidated], naming one node a caller marked dirty directly. A
[Publisher] sends them only when its methods are called; nothing in
[nodegraph.NodeGraph] publishes on its own. Both are gob-encoded, so
decoding them in another process requires nothing beyond this package
being imported there too (its init() registers both types).
*/
package notify

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"

	"github.com/opgraph/incremental"
)

func init() {
	gob.Register(EvaluationCompleted{})
	gob.Register(NodeInvalidated{})
}

// EvaluationCompleted reports the outcome of one Evaluate call.
type EvaluationCompleted struct {
	GraphID      string
	VisitedNodes []nodegraph.NodeId
	CacheHits    int64
	CacheMisses  int64
	Success      bool
	Elapsed      time.Duration
	Timestamp    time.Time
}

// NodeInvalidated reports that a single node was marked dirty, outside of
// an evaluation (for example by a direct parameter update).
type NodeInvalidated struct {
	GraphID   string
	Node      nodegraph.NodeId
	Timestamp time.Time
}

// Publisher sends graph activity notifications to a pubsub topic.
// GraphID is attached to every event published through it, letting a
// subscriber multiplex notifications from several graphs over one topic.
type Publisher struct {
	GraphID string
	Topic   *pubsub.Topic
}

// PublishEvaluationCompleted encodes and sends an EvaluationCompleted event
// derived from result.
func (p Publisher) PublishEvaluationCompleted(ctx context.Context, result nodegraph.EvaluationResult) error {
	return p.publish(ctx, "notify.PublishEvaluationCompleted", EvaluationCompleted{
		GraphID:      p.GraphID,
		VisitedNodes: result.VisitedNodes,
		CacheHits:    result.CacheHits,
		CacheMisses:  result.CacheMisses,
		Success:      result.Success,
		Elapsed:      result.Elapsed,
		Timestamp:    time.Now().UTC(),
	})
}

// PublishNodeInvalidated encodes and sends a NodeInvalidated event for id.
func (p Publisher) PublishNodeInvalidated(ctx context.Context, id nodegraph.NodeId) error {
	return p.publish(ctx, "notify.PublishNodeInvalidated", NodeInvalidated{
		GraphID:   p.GraphID,
		Node:      id,
		Timestamp: time.Now().UTC(),
	})
}

func (p Publisher) publish(ctx context.Context, spanName string, event any) error {
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("graph.id", p.GraphID),
	))
	defer span.End()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&event); err != nil {
		err = fmt.Errorf("encode gob: %w", err)
		span.SetStatus(codes.Error, err.Error())
		component.Logger(ctx).ErrorContext(ctx, "notify: failed to publish event", "graph.id", p.GraphID, "error", err)
		return err
	}

	component.Logger(ctx).DebugContext(ctx, "notify: publishing event", "graph.id", p.GraphID)
	msg := &pubsub.Message{Body: buf.Bytes(), Metadata: map[string]string{"graphID": p.GraphID}}
	if err := p.Topic.Send(ctx, msg); err != nil {
		err = fmt.Errorf("send: %w", err)
		span.SetStatus(codes.Error, err.Error())
		component.Logger(ctx).ErrorContext(ctx, "notify: failed to publish event", "graph.id", p.GraphID, "error", err)
		return err
	}
	return nil
}
