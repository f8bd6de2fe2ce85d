package notify_test

import (
	"bytes"
	"context"
	"encoding/gob"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gocloud.dev/pubsub/mempubsub"

	"github.com/opgraph/incremental"
	"github.com/opgraph/incremental/notify"
)

func TestEvaluationCompletedGobRoundTrip(t *testing.T) {
	want := notify.EvaluationCompleted{
		GraphID:      "render-graph",
		VisitedNodes: []nodegraph.NodeId{"a", "b"},
		CacheHits:    3,
		CacheMisses:  2,
		Success:      true,
		Elapsed:      150 * time.Millisecond,
		Timestamp:    time.Unix(1000, 0).UTC(),
	}

	var buf bytes.Buffer
	var asEvent any = want
	if err := gob.NewEncoder(&buf).Encode(&asEvent); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded any
	if err := gob.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	got, ok := decoded.(notify.EvaluationCompleted)
	if !ok {
		t.Fatalf("decoded value has type %T, want notify.EvaluationCompleted", decoded)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round-tripped EvaluationCompleted mismatch (-want +got):\n%s", diff)
	}
}

func TestPublisherSendsDecodableMessage(t *testing.T) {
	ctx := context.Background()

	topic := mempubsub.NewTopic()
	defer topic.Shutdown(ctx)
	sub := mempubsub.NewSubscription(topic, time.Second)
	defer sub.Shutdown(ctx)

	pub := notify.Publisher{GraphID: "render-graph", Topic: topic}
	if err := pub.PublishNodeInvalidated(ctx, "texture-a"); err != nil {
		t.Fatalf("PublishNodeInvalidated: %v", err)
	}

	msg, err := sub.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	msg.Ack()

	var decoded any
	if err := gob.NewDecoder(bytes.NewReader(msg.Body)).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	event, ok := decoded.(notify.NodeInvalidated)
	if !ok {
		t.Fatalf("decoded value has type %T, want notify.NodeInvalidated", decoded)
	}
	if event.GraphID != "render-graph" || event.Node != "texture-a" {
		t.Errorf("event = %+v, want GraphID=render-graph Node=texture-a", event)
	}
	if msg.Metadata["graphID"] != "render-graph" {
		t.Errorf("metadata[graphID] = %q, want %q", msg.Metadata["graphID"], "render-graph")
	}
}
