package purchase

import (
	"context"
	"sync"
	"testing"

	"bookstore/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachLedger runs fn against the in-memory ledger and, when a database is
// available, the PostgreSQL one.
func forEachLedger(t *testing.T, fn func(t *testing.T, l Ledger)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryLedger()) })
	t.Run("postgres", func(t *testing.T) { fn(t, setupTestLedger(t)) })
}

func seedBook(t *testing.T, l Ledger, price string, stock int) *Book {
	t.Helper()
	b, _, err := l.CreateBook(context.Background(), BookInput{
		Title: "Dune", Author: "Frank Herbert", Description: "Arrakis", Price: dec(price), Stock: stock,
	})
	require.NoError(t, err)
	return b
}

func TestLedgerBookLifecycleWritesOutbox(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		b, created, err := l.CreateBook(ctx, BookInput{Title: "Dune", Author: "Frank Herbert", Price: dec("9.99"), Stock: 4})
		require.NoError(t, err)
		assert.Equal(t, 1, b.Version)
		assert.Equal(t, events.BookCreated, created.Type)
		assert.Equal(t, b.ID, created.BookID)

		title := "Dune Messiah"
		updated, ev, err := l.UpdateBook(ctx, b.ID, BookPatch{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "Dune Messiah", updated.Title)
		assert.Equal(t, "Frank Herbert", updated.Author)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, events.BookUpdated, ev.Type)
		assert.Greater(t, ev.ID, created.ID)

		_, data, err := events.Decode(ev.Body)
		require.NoError(t, err)
		require.NotNil(t, data.Stock)
		assert.Equal(t, 4, *data.Stock, "updates carry the full row")
		assert.Equal(t, 2, *data.Version)

		deleted, err := l.DeleteBook(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, events.BookDeleted, deleted.Type)
		assert.Equal(t, 3, deleted.Version)

		_, err = l.GetBook(ctx, b.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, _, err = l.UpdateBook(ctx, b.ID, BookPatch{Title: &title})
		require.ErrorIs(t, err, ErrNotFound)
		_, err = l.DeleteBook(ctx, b.ID)
		require.ErrorIs(t, err, ErrNotFound)

		pending, err := l.PendingEvents(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, []string{events.BookCreated, events.BookUpdated, events.BookDeleted},
			[]string{pending[0].Type, pending[1].Type, pending[2].Type})

		require.NoError(t, l.MarkPublished(ctx, pending[0].ID, pending[1].ID))
		pending, err = l.PendingEvents(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, events.BookDeleted, pending[0].Type)
	})
}

func TestLedgerCreatePurchaseReservesStock(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		b := seedBook(t, l, "10.00", 5)

		p, ev, err := l.CreatePurchase(ctx, 42, b.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, StatusPendingPayment, p.Status)
		assert.Equal(t, int64(42), p.UserID)
		assert.Equal(t, "Dune", p.BookName)
		assertDecimal(t, "20.00", p.TotalPrice)

		got, err := l.GetBook(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Stock)

		_, data, err := events.Decode(ev.Body)
		require.NoError(t, err)
		assert.Equal(t, b.ID, data.ID)
		assert.Equal(t, 3, *data.Stock)

		_, _, err = l.CreatePurchase(ctx, 42, b.ID, 4)
		require.ErrorIs(t, err, ErrInsufficientStock)
		_, _, err = l.CreatePurchase(ctx, 42, 999, 1)
		require.ErrorIs(t, err, ErrNotFound)

		purchases, err := l.ListPurchases(ctx)
		require.NoError(t, err)
		assert.Len(t, purchases, 1)
		pending, err := l.PendingEvents(ctx, 0, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 2, "failed purchases write no event")
	})
}

func TestLedgerConcurrentPurchasesNeverOversell(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		b := seedBook(t, l, "1.00", 10)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var ok, short int
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := l.CreatePurchase(ctx, 1, b.ID, 1)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case assert.ErrorIs(t, err, ErrInsufficientStock):
					short++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, ok)
		assert.Equal(t, 15, short)
		got, err := l.GetBook(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Stock)
		assert.Equal(t, 11, got.Version)
	})
}

func TestLedgerPaymentAndDelivery(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		b := seedBook(t, l, "10.00", 5)
		p, _, err := l.CreatePurchase(ctx, 42, b.ID, 2)
		require.NoError(t, err)
		prov, err := l.CreateProvider(ctx, "Servientrega", "555-0100")
		require.NoError(t, err)

		_, err = l.AssignDelivery(ctx, p.ID, prov.ID)
		require.ErrorIs(t, err, ErrInvalidTransition, "unpaid purchases cannot ship")

		_, err = l.RecordPayment(ctx, p.ID, dec("19.99"), "card")
		require.ErrorIs(t, err, ErrValidation)
		_, err = l.RecordPayment(ctx, 999, dec("20"), "card")
		require.ErrorIs(t, err, ErrNotFound)

		pay, err := l.RecordPayment(ctx, p.ID, dec("20"), "card")
		require.NoError(t, err)
		assert.Equal(t, PaymentCompleted, pay.Status)
		assert.Equal(t, "card", pay.Method)

		got, err := l.GetPurchase(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, got.Status)

		_, err = l.RecordPayment(ctx, p.ID, dec("20"), "card")
		require.ErrorIs(t, err, ErrInvalidTransition, "a purchase is paid once")

		_, err = l.AssignDelivery(ctx, p.ID, 999)
		require.ErrorIs(t, err, ErrNotFound)
		a, err := l.AssignDelivery(ctx, p.ID, prov.ID)
		require.NoError(t, err)
		assert.Equal(t, AssignmentAssigned, a.Status)

		got, err = l.GetPurchase(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusOnDelivery, got.Status)

		payments, err := l.ListPayments(ctx)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
		assignments, err := l.ListAssignments(ctx)
		require.NoError(t, err)
		assert.Len(t, assignments, 1)

		require.NoError(t, l.DeletePurchase(ctx, p.ID))
		require.ErrorIs(t, l.DeletePurchase(ctx, p.ID), ErrNotFound)
		payments, err = l.ListPayments(ctx)
		require.NoError(t, err)
		assert.Empty(t, payments)
		assignments, err = l.ListAssignments(ctx)
		require.NoError(t, err)
		assert.Empty(t, assignments)
	})
}

func TestLedgerCancelRestocks(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		b := seedBook(t, l, "10.00", 5)
		p, _, err := l.CreatePurchase(ctx, 42, b.ID, 2)
		require.NoError(t, err)

		_, ev, err := l.UpdatePurchaseStatus(ctx, p.ID, StatusDelivered)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Nil(t, ev)

		got, ev, err := l.UpdatePurchaseStatus(ctx, p.ID, StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		require.NotNil(t, ev)
		_, data, err := events.Decode(ev.Body)
		require.NoError(t, err)
		assert.Equal(t, 5, *data.Stock)

		book, err := l.GetBook(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, book.Stock)

		_, _, err = l.UpdatePurchaseStatus(ctx, p.ID, StatusPaid)
		require.ErrorIs(t, err, ErrInvalidTransition, "cancelled is terminal")
	})
}

func TestLedgerCancelAfterBookDeleted(t *testing.T) {
	forEachLedger(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		b := seedBook(t, l, "10.00", 5)
		p, _, err := l.CreatePurchase(ctx, 42, b.ID, 1)
		require.NoError(t, err)
		_, err = l.DeleteBook(ctx, b.ID)
		require.NoError(t, err)

		got, ev, err := l.UpdatePurchaseStatus(ctx, p.ID, StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Nil(t, ev)
	})
}
