package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bookstore/internal/broker"
	"bookstore/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func publish(t *testing.T, ch *broker.Channel, eventType string, data events.BookData) {
	t.Helper()
	body, err := events.Encode(eventType, data)
	require.NoError(t, err)
	require.NoError(t, ch.Publish(context.Background(), body))
}

func startReconciler(t *testing.T, ch *broker.Channel, store Store) *Reconciler {
	t.Helper()
	r := NewReconciler(ch, store, 10*time.Millisecond, nil)
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return r
}

func stockOf(store Store, id int64) int {
	b, err := store.Get(context.Background(), id)
	if err != nil {
		return -1
	}
	return b.Stock
}

func TestReconcilerAppliesBacklog(t *testing.T) {
	ch := broker.NewChannel()
	store := NewMemoryStore()

	publish(t, ch, events.BookCreated, fullBook(1, 5, 1))
	publish(t, ch, events.BookUpdated, events.BookData{ID: 1, Stock: ptr(3), Version: ptr(2)})

	startReconciler(t, ch, store)

	require.Eventually(t, func() bool { return stockOf(store, 1) == 3 }, waitFor, tick)
	b, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, 2, b.Version)
}

func TestReconcilerSkipsMalformedMessages(t *testing.T) {
	ch := broker.NewChannel()
	store := NewMemoryStore()
	r := startReconciler(t, ch, store)
	require.Eventually(t, func() bool { return r.State() == StateConsuming }, waitFor, tick)

	for _, body := range []string{
		``,
		`not json`,
		`{"event":"book_updated"}`,
		`{"event":"book_archived","data":{"id":1}}`,
		`{"event":"book_updated","data":{"stock":4}}`,
	} {
		require.NoError(t, ch.Publish(context.Background(), []byte(body)))
	}
	publish(t, ch, events.BookCreated, fullBook(2, 7, 1))

	require.Eventually(t, func() bool { return stockOf(store, 2) == 7 }, waitFor, tick)
	assert.Equal(t, StateConsuming, r.State())
	all, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReconcilerSurvivesEmptyMessageBeforeSubscribing(t *testing.T) {
	ch := broker.NewChannel()
	store := NewMemoryStore()
	require.NoError(t, ch.Publish(context.Background(), []byte{}))
	publish(t, ch, events.BookCreated, fullBook(8, 4, 1))

	startReconciler(t, ch, store)

	require.Eventually(t, func() bool { return stockOf(store, 8) == 4 }, waitFor, tick)
	assert.Equal(t, 0, ch.Pending())
}

func TestReconcilerRetriesUntilConnected(t *testing.T) {
	ch := broker.NewChannel()
	ch.FailNextConnects(3)
	store := NewMemoryStore()

	r := NewReconciler(ch, store, 20*time.Millisecond, nil)
	assert.Equal(t, StateConnecting, r.State())
	r.Start(context.Background())
	t.Cleanup(r.Stop)

	publish(t, ch, events.BookCreated, fullBook(3, 1, 1))
	require.Eventually(t, func() bool { return stockOf(store, 3) == 1 }, waitFor, tick)
	assert.Equal(t, StateConsuming, r.State())
}

func TestReconcilerReconnectsAfterChannelLoss(t *testing.T) {
	ch := broker.NewChannel()
	store := NewMemoryStore()
	r := startReconciler(t, ch, store)

	publish(t, ch, events.BookCreated, fullBook(4, 10, 1))
	require.Eventually(t, func() bool { return stockOf(store, 4) == 10 }, waitFor, tick)

	ch.FailNextConnects(2)
	ch.Drop()

	publish(t, ch, events.BookUpdated, events.BookData{ID: 4, Stock: ptr(8), Version: ptr(2)})
	require.Eventually(t, func() bool { return stockOf(store, 4) == 8 }, waitFor, tick)
	require.Eventually(t, func() bool { return r.State() == StateConsuming }, waitFor, tick)
}

// closedSubscriber hands out subscriptions that are already closed.
type closedSubscriber struct{ calls atomic.Int32 }

func (s *closedSubscriber) Subscribe(context.Context) (broker.Subscription, error) {
	s.calls.Add(1)
	return closedSubscription{}, nil
}

type closedSubscription struct{}

func (closedSubscription) Deliveries() <-chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}

func (closedSubscription) Close() error { return nil }

func TestReconcilerWaitsBeforeResubscribing(t *testing.T) {
	sub := &closedSubscriber{}
	r := NewReconciler(sub, NewMemoryStore(), 50*time.Millisecond, nil)
	r.Start(context.Background())

	time.Sleep(220 * time.Millisecond)
	r.Stop()

	calls := sub.calls.Load()
	assert.GreaterOrEqual(t, calls, int32(2))
	assert.LessOrEqual(t, calls, int32(6))
}

func TestReconcilerKeepsPublishOrder(t *testing.T) {
	ch := broker.NewChannel()
	store := NewMemoryStore()

	publish(t, ch, events.BookCreated, fullBook(5, 100, 1))
	for i := 1; i <= 50; i++ {
		publish(t, ch, events.BookUpdated, events.BookData{ID: 5, Stock: ptr(100 - i), Version: ptr(1 + i)})
	}
	startReconciler(t, ch, store)

	require.Eventually(t, func() bool { return ch.Pending() == 0 && stockOf(store, 5) == 50 }, waitFor, tick)
	b, err := store.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 51, b.Version)
}

func TestReconcilerDeletesBooks(t *testing.T) {
	ch := broker.NewChannel()
	store := NewMemoryStore()
	startReconciler(t, ch, store)

	publish(t, ch, events.BookCreated, fullBook(6, 2, 1))
	require.Eventually(t, func() bool { return stockOf(store, 6) == 2 }, waitFor, tick)

	publish(t, ch, events.BookDeleted, events.BookData{ID: 6, Version: ptr(2)})
	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), 6)
		return errors.Is(err, ErrNotFound)
	}, waitFor, tick)

	// A delete for an id the replica never saw is a no-op.
	publish(t, ch, events.BookDeleted, events.BookData{ID: 99})
	publish(t, ch, events.BookCreated, fullBook(7, 1, 1))
	require.Eventually(t, func() bool { return stockOf(store, 7) == 1 }, waitFor, tick)
}

func TestReconcilerStopEndsRun(t *testing.T) {
	ch := broker.NewChannel()
	ch.FailNextConnects(1000)
	r := NewReconciler(ch, NewMemoryStore(), 10*time.Millisecond, nil)

	r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateConnecting, r.State())
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}
