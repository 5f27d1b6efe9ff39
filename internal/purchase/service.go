// internal/purchase/service.go
package purchase

import (
	"context"

	"bookstore/internal/clients"

	"github.com/shopspring/decimal"
)

// IdentityValidator resolves a session token to the user it was issued to.
type IdentityValidator interface {
	Validate(ctx context.Context, token string) (*clients.User, error)
}

// Service defines the interface for the purchase service.
type Service interface {
	CreateBook(ctx context.Context, in BookInput) (*Book, error)
	UpdateBook(ctx context.Context, id int64, patch BookPatch) (*Book, error)
	DeleteBook(ctx context.Context, id int64) error
	GetBook(ctx context.Context, id int64) (*Book, error)
	ListBooks(ctx context.Context) ([]Book, error)

	PurchaseBook(ctx context.Context, token string, bookID int64, quantity int) (*Purchase, error)
	GetPurchase(ctx context.Context, id int64) (*Purchase, error)
	ListPurchases(ctx context.Context) ([]Purchase, error)
	UpdatePurchaseStatus(ctx context.Context, id int64, to Status) (*Purchase, error)
	DeletePurchase(ctx context.Context, id int64) error

	RecordPayment(ctx context.Context, purchaseID int64, amount decimal.Decimal, method string) (*Payment, error)
	ListPayments(ctx context.Context) ([]Payment, error)

	CreateProvider(ctx context.Context, name, contact string) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	AssignDelivery(ctx context.Context, purchaseID, providerID int64) (*Assignment, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
}
