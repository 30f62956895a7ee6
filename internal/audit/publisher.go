package audit

import (
	"context"
	"errors"

	"railgate/pkg/domain"
	"railgate/pkg/requestcontext"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, intentID domain.IntentID) ([]Event, error) {
	return p.store.ListByIntent(ctx, intentID)
}

// BufferedPublisher queues events for a Worker so the reconciliation hot path
// never waits on the sink. When the buffer is full the event is dropped and
// an error returned; audit is best effort, money state is not.
type BufferedPublisher struct {
	inbox chan Event
}

func NewBufferedPublisher(buffer int) *BufferedPublisher {
	return &BufferedPublisher{inbox: make(chan Event, buffer)}
}

func (p *BufferedPublisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		return errors.New("audit buffer full, event dropped")
	}
}

// Events exposes the queue for a Worker to consume.
func (p *BufferedPublisher) Events() <-chan Event {
	return p.inbox
}
