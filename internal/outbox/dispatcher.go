// Package outbox drains the transactional outbox. Completion events are
// written in the same transaction as the decision that produced them; this
// dispatcher relays them to the broker afterwards, so a broker outage can
// delay delivery but never lose a recorded decision.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Publisher sends a serialized event to a broker subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config controls the dispatch loop.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Dispatcher polls pending outbox rows and publishes them in order.
// Events that keep failing are parked as failed once the attempt cap is
// reached and need operator attention.
type Dispatcher struct {
	store  repository.OutboxStore
	pub    Publisher
	cfg    Config
	log    *logger.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a dispatcher. Zero config values fall back to defaults.
func New(store repository.OutboxStore, pub Publisher, cfg Config, log *logger.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Dispatcher{
		store:  store,
		pub:    pub,
		cfg:    cfg,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start launches the dispatch loop in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop halts the loop and waits for the in-flight batch to finish.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.Drain(ctx)
	for {
		select {
		case <-ticker.C:
			d.Drain(ctx)
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Drain fetches one batch of pending events and publishes each. Exposed so
// tests and shutdown paths can flush without waiting for the ticker.
func (d *Dispatcher) Drain(ctx context.Context) {
	events, err := d.store.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		d.log.Error().Err(err).Msg("outbox: fetch pending events failed")
		return
	}
	for _, ev := range events {
		d.dispatch(ctx, ev)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *repository.OutboxEvent) {
	subject := SubjectFor(ev.EventType)

	if err := d.pub.Publish(ctx, subject, ev.Payload); err != nil {
		exhausted := ev.Attempts+1 >= d.cfg.MaxAttempts
		if markErr := d.store.MarkFailed(ctx, ev.ID, err.Error(), exhausted); markErr != nil {
			d.log.Error().Err(markErr).Str("event_id", ev.ID).Msg("outbox: recording publish failure failed")
		}
		metrics.RecordOutboxFailed()

		evt := d.log.Warn()
		if exhausted {
			evt = d.log.Error()
		}
		evt.Err(err).
			Str("event_id", ev.ID).
			Str("subject", subject).
			Int("attempts", ev.Attempts+1).
			Bool("exhausted", exhausted).
			Msg("outbox: publish failed")
		return
	}

	if err := d.store.MarkPublished(ctx, ev.ID); err != nil {
		d.log.Error().Err(err).Str("event_id", ev.ID).Msg("outbox: mark published failed, event may be re-delivered")
		return
	}

	metrics.RecordOutboxPublished()
	d.log.Debug().
		Str("event_id", ev.ID).
		Str("subject", subject).
		Msg("outbox: event published")
}

// SubjectFor maps an outbox event type to its broker subject.
func SubjectFor(eventType string) string {
	return fmt.Sprintf("approvals.%s", eventType)
}
