// internal/catalog/reconciler.go
package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"bookstore/internal/broker"
	"bookstore/internal/events"
	"bookstore/internal/obs"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is the reconciler's position in its connection lifecycle.
type State string

const (
	StateConnecting State = "connecting"
	StateSubscribed State = "subscribed"
	StateConsuming  State = "consuming"
)

// applyAttempts bounds how often a store write is tried for one event.
const applyAttempts = 4

// Reconciler consumes inventory events and upserts them into the replica. It is
// the only writer of the Store. Connection failures are retried at a fixed
// interval for as long as it runs; a lost subscription sends it back to
// connecting. Deliveries are auto-acknowledged, so a message that cannot be
// decoded or applied is logged and dropped.
type Reconciler struct {
	sub      broker.Subscriber
	store    Store
	interval time.Duration
	metrics  *obs.EventMetrics
	tracer   trace.Tracer

	state atomic.Value

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler builds a reconciler that retries connections every interval.
func NewReconciler(sub broker.Subscriber, store Store, interval time.Duration, metrics *obs.EventMetrics) *Reconciler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if metrics == nil {
		metrics = obs.NewEventMetrics()
	}
	r := &Reconciler{
		sub:      sub,
		store:    store,
		interval: interval,
		metrics:  metrics,
		tracer:   otel.Tracer("bookstore/catalog"),
	}
	r.state.Store(StateConnecting)
	return r
}

// State reports where the reconciler currently is.
func (r *Reconciler) State() State {
	return r.state.Load().(State)
}

func (r *Reconciler) setState(s State) {
	if r.state.Swap(s) != s {
		obs.Logger.Info("reconciler state", "state", string(s))
	}
}

// Start runs the reconciler in the background until Stop or parent is done.
func (r *Reconciler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		_ = r.Run(ctx)
	}()
}

// Stop ends the background run and waits for it to return.
func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

// Run loops connecting, subscribing and consuming until ctx is cancelled. After
// a lost subscription it waits one interval before reconnecting. It returns
// only the context's error.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		r.setState(StateConnecting)
		sub, err := r.connect(ctx)
		if err != nil {
			return ctx.Err()
		}

		r.setState(StateSubscribed)
		err = r.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		obs.Logger.Warn("subscription lost, reconnecting", "error", err, "retry_in", r.interval.String())

		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// connect retries Subscribe at a fixed interval with no deadline. It gives up
// only when ctx is done.
func (r *Reconciler) connect(ctx context.Context) (broker.Subscription, error) {
	return backoff.Retry(ctx, func() (broker.Subscription, error) {
		return r.sub.Subscribe(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.interval)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			obs.Logger.Warn("event channel unavailable", "error", err, "retry_in", next.String())
		}),
	)
}

func (r *Reconciler) consume(ctx context.Context, sub broker.Subscription) error {
	r.setState(StateConsuming)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case body, ok := <-sub.Deliveries():
			if !ok {
				return broker.ErrChannelClosed
			}
			r.handle(ctx, body)
		}
	}
}

// handle applies one delivery. Nothing it encounters stops the consumer.
func (r *Reconciler) handle(ctx context.Context, body []byte) {
	typ, data, err := events.Decode(body)
	if err != nil {
		r.metrics.Malformed.Add(ctx, 1)
		obs.Logger.Warn("skipping malformed event", "error", err, "body", obs.Truncate(body, 256))
		return
	}

	ctx, span := r.tracer.Start(ctx, "catalog.reconcile", trace.WithAttributes(
		attribute.String("event", typ),
		attribute.Int64("book.id", data.ID),
	))
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	applied, err := backoff.Retry(ctx, func() (bool, error) {
		if typ == events.BookDeleted {
			return true, r.store.Delete(ctx, data.ID)
		}
		return r.store.Apply(ctx, data)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(applyAttempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		if !errors.Is(err, context.Canceled) {
			obs.Logger.Error("failed to apply event, skipping", "event", typ, "book_id", data.ID, "error", err)
		}
		return
	}
	if !applied {
		obs.Logger.Info("skipping stale event", "event", typ, "book_id", data.ID, "version", *data.Version)
		return
	}
	r.metrics.Applied.Add(ctx, 1, metric.WithAttributes(attribute.String("event", typ)))
}
