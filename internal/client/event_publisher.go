package client

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// EventPublisher publishes approval completion events to NATS JetStream for
// consumption by downstream services (notifications, entity owners).
//
// Subject convention: approvals.<event_type>
// Event types: request_approved, request_rejected
//
// Publish returns errors instead of swallowing them: the outbox dispatcher
// owns retries, so a failed publish must stay pending in the outbox.
type EventPublisher struct {
	js  nats.JetStreamContext
	log zerolog.Logger
}

// NewEventPublisher wraps an established NATS connection.
func NewEventPublisher(conn *nats.Conn, log zerolog.Logger) (*EventPublisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "jetstream context")
	}
	return &EventPublisher{js: js, log: log}, nil
}

// Publish sends one serialized event to the given subject.
func (p *EventPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return errors.Wrap(err, errors.ErrCodeUnavailable, "publish to "+subject)
	}

	p.log.Debug().
		Str("subject", subject).
		Msg("event published")
	return nil
}
