// internal/purchase/implementation.go
package purchase

import (
	"context"
	"fmt"
	"strings"

	"bookstore/internal/obs"

	"github.com/shopspring/decimal"
)

// service implements the Service interface.
type service struct {
	ledger   Ledger
	relay    *Relay
	identity IdentityValidator
}

// NewService creates a new purchase service instance.
func NewService(ledger Ledger, relay *Relay, identity IdentityValidator) Service {
	return &service{ledger: ledger, relay: relay, identity: identity}
}

// publish flushes the outbox through ev. The mutation behind ev has already
// committed, so a failure leaves ev pending for the relay loop.
func (s *service) publish(ctx context.Context, ev Event) error {
	if err := s.relay.Flush(ctx, ev.ID); err != nil {
		obs.Logger.Warn("inventory event left in outbox", "event_id", ev.ID, "event", ev.Type, "book_id", ev.BookID, "error", err)
		return err
	}
	return nil
}

func (s *service) CreateBook(ctx context.Context, in BookInput) (*Book, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	b, ev, err := s.ledger.CreateBook(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}
	if err := s.publish(ctx, ev); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) UpdateBook(ctx context.Context, id int64, patch BookPatch) (*Book, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	b, ev, err := s.ledger.UpdateBook(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	if err := s.publish(ctx, ev); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) DeleteBook(ctx context.Context, id int64) error {
	ev, err := s.ledger.DeleteBook(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return s.publish(ctx, ev)
}

func (s *service) GetBook(ctx context.Context, id int64) (*Book, error) {
	return s.ledger.GetBook(ctx, id)
}

func (s *service) ListBooks(ctx context.Context) ([]Book, error) {
	return s.ledger.ListBooks(ctx)
}

// PurchaseBook validates the caller, reserves stock and creates the purchase,
// then publishes the stock change.
func (s *service) PurchaseBook(ctx context.Context, token string, bookID int64, quantity int) (*Purchase, error) {
	// Step 1: Resolve the caller
	user, err := s.identity.Validate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to validate credential: %w", err)
	}

	// Step 2: Check the request
	var problems []string
	if bookID <= 0 {
		problems = append(problems, "book_id must be positive")
	}
	if quantity < 1 {
		problems = append(problems, "quantity must be at least 1")
	}
	if err := validation(problems); err != nil {
		return nil, err
	}

	// Step 3: Reserve stock and record the purchase in one transaction
	p, ev, err := s.ledger.CreatePurchase(ctx, user.ID, bookID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}
	obs.Logger.Info("purchase created", "purchase_id", p.ID, "user_id", user.ID, "book_id", bookID, "quantity", quantity)

	// Step 4: Publish the new stock level
	if err := s.publish(ctx, ev); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) GetPurchase(ctx context.Context, id int64) (*Purchase, error) {
	return s.ledger.GetPurchase(ctx, id)
}

func (s *service) ListPurchases(ctx context.Context) ([]Purchase, error) {
	return s.ledger.ListPurchases(ctx)
}

func (s *service) UpdatePurchaseStatus(ctx context.Context, id int64, to Status) (*Purchase, error) {
	if !to.Known() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, to)
	}
	p, ev, err := s.ledger.UpdatePurchaseStatus(ctx, id, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update purchase: %w", err)
	}
	if ev != nil {
		if err := s.publish(ctx, *ev); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *service) DeletePurchase(ctx context.Context, id int64) error {
	if err := s.ledger.DeletePurchase(ctx, id); err != nil {
		return fmt.Errorf("failed to delete purchase: %w", err)
	}
	return nil
}

func (s *service) RecordPayment(ctx context.Context, purchaseID int64, amount decimal.Decimal, method string) (*Payment, error) {
	var problems []string
	if purchaseID <= 0 {
		problems = append(problems, "purchase_id must be positive")
	}
	if amount.IsNegative() {
		problems = append(problems, "amount must not be negative")
	}
	if strings.TrimSpace(method) == "" {
		problems = append(problems, "method is required")
	}
	if err := validation(problems); err != nil {
		return nil, err
	}

	pay, err := s.ledger.RecordPayment(ctx, purchaseID, amount, method)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	obs.Logger.Info("payment recorded", "payment_id", pay.ID, "purchase_id", purchaseID, "amount", amount.String())
	return pay, nil
}

func (s *service) ListPayments(ctx context.Context) ([]Payment, error) {
	return s.ledger.ListPayments(ctx)
}

func (s *service) CreateProvider(ctx context.Context, name, contact string) (*Provider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	p, err := s.ledger.CreateProvider(ctx, name, contact)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return p, nil
}

func (s *service) ListProviders(ctx context.Context) ([]Provider, error) {
	return s.ledger.ListProviders(ctx)
}

func (s *service) AssignDelivery(ctx context.Context, purchaseID, providerID int64) (*Assignment, error) {
	if purchaseID <= 0 || providerID <= 0 {
		return nil, fmt.Errorf("%w: purchase_id and provider_id must be positive", ErrValidation)
	}
	a, err := s.ledger.AssignDelivery(ctx, purchaseID, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign delivery: %w", err)
	}
	obs.Logger.Info("delivery assigned", "assignment_id", a.ID, "purchase_id", purchaseID, "provider_id", providerID)
	return a, nil
}

func (s *service) ListAssignments(ctx context.Context) ([]Assignment, error) {
	return s.ledger.ListAssignments(ctx)
}
