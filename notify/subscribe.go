package notify

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// Handler dispatches decoded notify events. Either field may be left nil;
// events with no matching handler are silently dropped (after being
// acknowledged, so the subscription doesn't stall on events a particular
// subscriber doesn't care about).
type Handler struct {
	OnEvaluationCompleted func(ctx context.Context, event EvaluationCompleted) error
	OnNodeInvalidated     func(ctx context.Context, event NodeInvalidated) error
}

// Subscriber decodes and dispatches notify events received from a pubsub
// subscription.
type Subscriber struct {
	Subscription *pubsub.Subscription
}

// Stream returns a component.Proc that continuously receives messages from
// the subscription, decodes them into one of this package's event types,
// and dispatches them to h. Every message is acknowledged once received,
// even on a decode or handler failure, per the subscription's
// at-least-once delivery contract: a stuck message would otherwise block
// every event behind it forever.
func (s Subscriber) Stream(h Handler) component.Proc {
	return func(l *component.L) {
		for l.Continue() {
			msg, err := s.Subscription.Receive(l.Context())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}
			msg.Ack()

			if err := s.dispatch(l.Context(), h, msg.Body); err != nil {
				component.Logger(l.Context()).ErrorContext(l.Context(), "notify: failed to handle event", "error", err)
			}
		}
	}
}

func (s Subscriber) dispatch(ctx context.Context, h Handler, body []byte) error {
	var event any
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&event); err != nil {
		return fmt.Errorf("decode gob: %w", err)
	}

	switch e := event.(type) {
	case EvaluationCompleted:
		if h.OnEvaluationCompleted == nil {
			return nil
		}
		return h.OnEvaluationCompleted(ctx, e)
	case NodeInvalidated:
		if h.OnNodeInvalidated == nil {
			return nil
		}
		return h.OnNodeInvalidated(ctx, e)
	default:
		return fmt.Errorf("notify: unrecognised event type %T", event)
	}
}
