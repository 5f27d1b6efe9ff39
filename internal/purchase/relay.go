// internal/purchase/relay.go
package purchase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"bookstore/internal/broker"
	"bookstore/internal/obs"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Relay moves outbox events to the broker. Request handlers call Flush right
// after their transaction commits; the background loop started by Start picks
// up whatever a failed Flush left behind.
//
// Flushes are serialized and publish in outbox id order, so events for one book
// reach the queue in the order their transactions committed.
type Relay struct {
	ledger   Ledger
	pub      broker.Publisher
	metrics  *obs.EventMetrics
	batch    int
	interval time.Duration

	mu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRelay builds a relay that publishes up to batch events per read.
func NewRelay(ledger Ledger, pub broker.Publisher, metrics *obs.EventMetrics, batch int, interval time.Duration) *Relay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if metrics == nil {
		metrics = obs.NewEventMetrics()
	}
	return &Relay{ledger: ledger, pub: pub, metrics: metrics, batch: batch, interval: interval}
}

// Flush publishes pending events in id order up to and including upTo. It
// returns an error wrapping ErrPublish if an event with id <= upTo is still
// pending when it stops; a failure on a later event is left for the loop.
func (r *Relay) Flush(ctx context.Context, upTo int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// after is a cursor over the outbox, so rows published here but not
	// marked are not read again by this flush.
	var after int64
	for {
		pending, err := r.ledger.PendingEvents(ctx, after, r.batch)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPublish, err)
		}

		for _, ev := range pending {
			if ev.ID > upTo {
				return nil
			}
			after = ev.ID
			if err := r.pub.Publish(ctx, ev.Body); err != nil {
				r.metrics.PublishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Type)))
				return fmt.Errorf("%w: event %d (%s book %d): %w", ErrPublish, ev.ID, ev.Type, ev.BookID, err)
			}
			r.metrics.Published.Add(ctx, 1, metric.WithAttributes(attribute.String("event", ev.Type)))

			// A failure here only causes a duplicate later, which the replica absorbs.
			if err := r.ledger.MarkPublished(ctx, ev.ID); err != nil {
				obs.Logger.Warn("failed to mark event published", "event_id", ev.ID, "error", err)
			}
		}

		if len(pending) < r.batch {
			return nil
		}
	}
}

// FlushAll publishes every pending event.
func (r *Relay) FlushAll(ctx context.Context) error {
	return r.Flush(ctx, math.MaxInt64)
}

// Start runs the retry loop in the background until Stop or parent is done.
func (r *Relay) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)
}

// Stop ends the loop and waits for it to return.
func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	obs.Logger.Info("outbox relay started", "interval", r.interval.String())

	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if err := r.FlushAll(ctx); err != nil && ctx.Err() == nil {
			obs.Logger.Warn("outbox relay flush failed", "error", err)
		}
		select {
		case <-ctx.Done():
			obs.Logger.Info("outbox relay stopped")
			return
		case <-t.C:
		}
	}
}
