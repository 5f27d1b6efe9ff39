// internal/purchase/ledger.go
package purchase

import (
	"context"

	"github.com/shopspring/decimal"
)

// Ledger is the authoritative store for books, purchases, payments and
// deliveries. Every method that changes a book's visible fields writes the
// matching outbox Event in the same transaction and returns it.
//
// Stock reservation is serialized per book: CreatePurchase checks and
// decrements under a lock on the book row, so concurrent purchases of the same
// book never oversell.
type Ledger interface {
	CreateBook(ctx context.Context, in BookInput) (*Book, Event, error)
	UpdateBook(ctx context.Context, id int64, patch BookPatch) (*Book, Event, error)
	DeleteBook(ctx context.Context, id int64) (Event, error)
	GetBook(ctx context.Context, id int64) (*Book, error)
	ListBooks(ctx context.Context) ([]Book, error)

	CreatePurchase(ctx context.Context, userID, bookID int64, quantity int) (*Purchase, Event, error)
	GetPurchase(ctx context.Context, id int64) (*Purchase, error)
	ListPurchases(ctx context.Context) ([]Purchase, error)
	// UpdatePurchaseStatus applies a status transition. Cancelling puts the
	// purchased quantity back in stock and returns the resulting event; other
	// transitions return a nil event.
	UpdatePurchaseStatus(ctx context.Context, id int64, to Status) (*Purchase, *Event, error)
	DeletePurchase(ctx context.Context, id int64) error

	RecordPayment(ctx context.Context, purchaseID int64, amount decimal.Decimal, method string) (*Payment, error)
	ListPayments(ctx context.Context) ([]Payment, error)

	CreateProvider(ctx context.Context, name, contact string) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	AssignDelivery(ctx context.Context, purchaseID, providerID int64) (*Assignment, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)

	// PendingEvents returns up to limit unpublished outbox events with an id
	// greater than after, in id order.
	PendingEvents(ctx context.Context, after int64, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids ...int64) error
}
