package purchase

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookstore/internal/broker"
	"bookstore/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayRepublishesPendingEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.channel.FailNextPublishes(1)
	_, err := f.svc.CreateBook(ctx, BookInput{Title: "Dune", Author: "Frank Herbert", Price: dec("10"), Stock: 5})
	require.ErrorIs(t, err, ErrPublish)
	require.ErrorIs(t, err, broker.ErrUnavailable)
	assert.Empty(t, f.channel.Published())

	f.relay.Start(ctx)
	defer f.relay.Stop()

	require.Eventually(t, func() bool {
		return len(f.channel.Published()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	types, data := decodePublished(t, f.channel)
	assert.Equal(t, events.BookCreated, types[0])
	assert.Equal(t, "Dune", *data[0].Title)
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	ledger := NewMemoryLedger()
	ch := broker.NewChannel()
	relay := NewRelay(ledger, ch, nil, 2, time.Hour)
	ctx := context.Background()

	var last Event
	for i := 0; i < 5; i++ {
		_, ev, err := ledger.CreateBook(ctx, BookInput{Title: "t", Author: "a", Stock: i})
		require.NoError(t, err)
		last = ev
	}

	// Everything through upTo=2 is published, later events are left alone.
	require.NoError(t, relay.Flush(ctx, 2))
	assert.Len(t, ch.Published(), 2)

	ch.FailNextPublishes(1)
	require.ErrorIs(t, relay.Flush(ctx, last.ID), ErrPublish)
	assert.Len(t, ch.Published(), 2)

	require.NoError(t, relay.FlushAll(ctx))
	_, data := decodePublished(t, ch)
	require.Len(t, data, 5)
	for i, d := range data {
		assert.Equal(t, int64(i+1), d.ID, "published in outbox order")
	}

	pending, err := ledger.PendingEvents(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// unmarkedLedger publishes fine but never records that it did.
type unmarkedLedger struct {
	*MemoryLedger
}

func (unmarkedLedger) MarkPublished(context.Context, ...int64) error {
	return errors.New("connection reset")
}

func TestFlushReachesUpToWhenMarkingFails(t *testing.T) {
	ledger := unmarkedLedger{NewMemoryLedger()}
	ch := broker.NewChannel()
	relay := NewRelay(ledger, ch, nil, 1, time.Hour)
	ctx := context.Background()

	_, first, err := ledger.CreateBook(ctx, BookInput{Title: "Dune", Author: "Frank Herbert", Stock: 1})
	require.NoError(t, err)
	require.NoError(t, relay.Flush(ctx, first.ID))
	require.Len(t, ch.Published(), 1)

	_, second, err := ledger.CreateBook(ctx, BookInput{Title: "Emma", Author: "Jane Austen", Stock: 2})
	require.NoError(t, err)
	require.NoError(t, relay.Flush(ctx, second.ID))

	// The first event is sent again since it was never marked; the second one
	// must have been sent too.
	_, data := decodePublished(t, ch)
	require.Len(t, data, 3)
	assert.Equal(t, []int64{1, 1, 2}, []int64{data[0].ID, data[1].ID, data[2].ID})
}

func TestRelayStopWithoutStart(t *testing.T) {
	relay := NewRelay(NewMemoryLedger(), broker.NewChannel(), nil, 0, 0)
	relay.Stop()
}
