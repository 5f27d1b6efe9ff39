// internal/purchase/ledger_memory.go
package purchase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bookstore/internal/events"

	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process Ledger. One mutex guards all state, so every
// operation is atomic and linearizable.
type MemoryLedger struct {
	mu          sync.Mutex
	seq         map[string]int64
	books       map[int64]Book
	purchases   map[int64]Purchase
	payments    map[int64]Payment
	providers   map[int64]Provider
	assignments map[int64]Assignment
	outbox      []Event
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		seq:         make(map[string]int64),
		books:       make(map[int64]Book),
		purchases:   make(map[int64]Purchase),
		payments:    make(map[int64]Payment),
		providers:   make(map[int64]Provider),
		assignments: make(map[int64]Assignment),
	}
}

func (l *MemoryLedger) next(table string) int64 {
	l.seq[table]++
	return l.seq[table]
}

func (l *MemoryLedger) appendEvent(eventType string, b *Book) (Event, error) {
	ev, err := bookEvent(eventType, b)
	if err != nil {
		return Event{}, err
	}
	ev.ID = l.next("book_events")
	ev.CreatedAt = time.Now().UTC()
	l.outbox = append(l.outbox, ev)
	return ev, nil
}

func (l *MemoryLedger) CreateBook(_ context.Context, in BookInput) (*Book, Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	b := Book{
		ID:          l.next("books"),
		Title:       in.Title,
		Author:      in.Author,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ev, err := l.appendEvent(events.BookCreated, &b)
	if err != nil {
		return nil, Event{}, err
	}
	l.books[b.ID] = b
	return &b, ev, nil
}

func (l *MemoryLedger) UpdateBook(_ context.Context, id int64, patch BookPatch) (*Book, Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.books[id]
	if !ok {
		return nil, Event{}, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	patch.Apply(&b)
	b.Version++
	b.UpdatedAt = time.Now().UTC()
	ev, err := l.appendEvent(events.BookUpdated, &b)
	if err != nil {
		return nil, Event{}, err
	}
	l.books[id] = b
	return &b, ev, nil
}

func (l *MemoryLedger) DeleteBook(_ context.Context, id int64) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.books[id]
	if !ok {
		return Event{}, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	b.Version++
	ev, err := l.appendEvent(events.BookDeleted, &b)
	if err != nil {
		return Event{}, err
	}
	delete(l.books, id)
	return ev, nil
}

func (l *MemoryLedger) GetBook(_ context.Context, id int64) (*Book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[id]
	if !ok {
		return nil, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	return &b, nil
}

func (l *MemoryLedger) ListBooks(context.Context) ([]Book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedValues(l.books), nil
}

func (l *MemoryLedger) CreatePurchase(_ context.Context, userID, bookID int64, quantity int) (*Purchase, Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.books[bookID]
	if !ok {
		return nil, Event{}, fmt.Errorf("%w: book %d", ErrNotFound, bookID)
	}
	if quantity > b.Stock {
		return nil, Event{}, fmt.Errorf("%w: book %d has %d in stock, %d requested", ErrInsufficientStock, bookID, b.Stock, quantity)
	}

	now := time.Now().UTC()
	b.Stock -= quantity
	b.Version++
	b.UpdatedAt = now
	ev, err := l.appendEvent(events.BookUpdated, &b)
	if err != nil {
		return nil, Event{}, err
	}

	p := Purchase{
		ID:         l.next("purchases"),
		UserID:     userID,
		BookID:     bookID,
		BookName:   b.Title,
		Quantity:   quantity,
		TotalPrice: b.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Status:     StatusPendingPayment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.books[bookID] = b
	l.purchases[p.ID] = p
	return &p, ev, nil
}

func (l *MemoryLedger) GetPurchase(_ context.Context, id int64) (*Purchase, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.purchases[id]
	if !ok {
		return nil, fmt.Errorf("%w: purchase %d", ErrNotFound, id)
	}
	return &p, nil
}

func (l *MemoryLedger) ListPurchases(context.Context) ([]Purchase, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedValues(l.purchases), nil
}

func (l *MemoryLedger) UpdatePurchaseStatus(_ context.Context, id int64, to Status) (*Purchase, *Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.purchases[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: purchase %d", ErrNotFound, id)
	}
	if !CanTransition(p.Status, to) {
		return nil, nil, fmt.Errorf("%w: purchase %d is %q, cannot become %q", ErrInvalidTransition, id, p.Status, to)
	}

	now := time.Now().UTC()
	var ev *Event
	if b, ok := l.books[p.BookID]; ok && to == StatusCancelled {
		b.Stock += p.Quantity
		b.Version++
		b.UpdatedAt = now
		e, err := l.appendEvent(events.BookUpdated, &b)
		if err != nil {
			return nil, nil, err
		}
		l.books[b.ID] = b
		ev = &e
	}

	p.Status = to
	p.UpdatedAt = now
	l.purchases[id] = p
	return &p, ev, nil
}

func (l *MemoryLedger) DeletePurchase(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.purchases[id]; !ok {
		return fmt.Errorf("%w: purchase %d", ErrNotFound, id)
	}
	delete(l.purchases, id)
	for pid, pay := range l.payments {
		if pay.PurchaseID == id {
			delete(l.payments, pid)
		}
	}
	for aid, a := range l.assignments {
		if a.PurchaseID == id {
			delete(l.assignments, aid)
		}
	}
	return nil
}

func (l *MemoryLedger) RecordPayment(_ context.Context, purchaseID int64, amount decimal.Decimal, method string) (*Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.purchases[purchaseID]
	if !ok {
		return nil, fmt.Errorf("%w: purchase %d", ErrNotFound, purchaseID)
	}
	if p.Status != StatusPendingPayment {
		return nil, fmt.Errorf("%w: purchase %d is %q, not awaiting payment", ErrInvalidTransition, purchaseID, p.Status)
	}
	if !amount.Equal(p.TotalPrice) {
		return nil, fmt.Errorf("%w: amount %s does not match total price %s", ErrValidation, amount, p.TotalPrice)
	}

	now := time.Now().UTC()
	pay := Payment{
		ID:         l.next("payments"),
		PurchaseID: purchaseID,
		Amount:     amount,
		Method:     method,
		Status:     PaymentCompleted,
		CreatedAt:  now,
	}
	l.payments[pay.ID] = pay
	p.Status = StatusPaid
	p.UpdatedAt = now
	l.purchases[purchaseID] = p
	return &pay, nil
}

func (l *MemoryLedger) ListPayments(context.Context) ([]Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedValues(l.payments), nil
}

func (l *MemoryLedger) CreateProvider(_ context.Context, name, contact string) (*Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := Provider{ID: l.next("providers"), Name: name, Contact: contact}
	l.providers[p.ID] = p
	return &p, nil
}

func (l *MemoryLedger) ListProviders(context.Context) ([]Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedValues(l.providers), nil
}

func (l *MemoryLedger) AssignDelivery(_ context.Context, purchaseID, providerID int64) (*Assignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.purchases[purchaseID]
	if !ok {
		return nil, fmt.Errorf("%w: purchase %d", ErrNotFound, purchaseID)
	}
	if _, ok := l.providers[providerID]; !ok {
		return nil, fmt.Errorf("%w: provider %d", ErrNotFound, providerID)
	}
	if !CanTransition(p.Status, StatusOnDelivery) {
		return nil, fmt.Errorf("%w: purchase %d is %q, not paid", ErrInvalidTransition, purchaseID, p.Status)
	}

	now := time.Now().UTC()
	a := Assignment{
		ID:         l.next("assignments"),
		PurchaseID: purchaseID,
		ProviderID: providerID,
		Status:     AssignmentAssigned,
		CreatedAt:  now,
	}
	l.assignments[a.ID] = a
	p.Status = StatusOnDelivery
	p.UpdatedAt = now
	l.purchases[purchaseID] = p
	return &a, nil
}

func (l *MemoryLedger) ListAssignments(context.Context) ([]Assignment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sortedValues(l.assignments), nil
}

func (l *MemoryLedger) PendingEvents(_ context.Context, after int64, limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, ev := range l.outbox {
		if ev.PublishedAt != nil || ev.ID <= after {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) MarkPublished(_ context.Context, ids ...int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	now := time.Now().UTC()
	for i := range l.outbox {
		if want[l.outbox[i].ID] && l.outbox[i].PublishedAt == nil {
			l.outbox[i].PublishedAt = &now
		}
	}
	return nil
}

func sortedValues[T any](m map[int64]T) []T {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
