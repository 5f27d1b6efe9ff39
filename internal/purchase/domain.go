// internal/purchase/domain.go
package purchase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bookstore/internal/events"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	// ErrPublish means the mutation committed but its inventory event could not
	// be handed to the broker. The event stays in the outbox for the relay.
	ErrPublish = errors.New("inventory event not published")
)

// Book is the authoritative inventory record.
type Book struct {
	ID          int64           `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Author      string          `db:"author" json:"author"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Stock       int             `db:"stock" json:"stock"`
	Version     int             `db:"version" json:"version"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Status is the lifecycle state of a purchase.
type Status string

const (
	StatusPendingPayment Status = "Pending Payment"
	StatusPaid           Status = "Paid"
	StatusOnDelivery     Status = "On Delivery"
	StatusDelivered      Status = "Delivered"
	StatusCancelled      Status = "Cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPendingPayment: {StatusPaid: true, StatusCancelled: true},
	StatusPaid:           {StatusOnDelivery: true, StatusCancelled: true},
	StatusOnDelivery:     {StatusDelivered: true},
	StatusDelivered:      {},
	StatusCancelled:      {},
}

// CanTransition reports whether a purchase may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Known reports whether s is one of the defined statuses.
func (s Status) Known() bool {
	_, ok := validNext[s]
	return ok
}

// Purchase is an order for one book. TotalPrice is frozen at creation.
type Purchase struct {
	ID         int64           `db:"id" json:"id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	BookID     int64           `db:"book_id" json:"book_id"`
	BookName   string          `db:"book_name" json:"book_name"`
	Quantity   int             `db:"quantity" json:"quantity"`
	TotalPrice decimal.Decimal `db:"total_price" json:"total_price"`
	Status     Status          `db:"status" json:"status"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentCompleted is the only status a recorded payment has.
const PaymentCompleted = "Completed"

type Payment struct {
	ID         int64           `db:"id" json:"id"`
	PurchaseID int64           `db:"purchase_id" json:"purchase_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"payment_method" json:"method"`
	Status     string          `db:"payment_status" json:"status"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

type Provider struct {
	ID      int64  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Contact string `db:"contact" json:"contact"`
}

// AssignmentAssigned is the status of a freshly created delivery assignment.
const AssignmentAssigned = "Assigned"

type Assignment struct {
	ID         int64     `db:"id" json:"id"`
	PurchaseID int64     `db:"purchase_id" json:"purchase_id"`
	ProviderID int64     `db:"provider_id" json:"provider_id"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Event is an outbox row: an inventory event written in the same transaction as
// the change it describes. Body is the exact queue message.
type Event struct {
	ID          int64      `db:"id"`
	BookID      int64      `db:"book_id"`
	Type        string     `db:"event_type"`
	Version     int        `db:"version"`
	Body        []byte     `db:"body"`
	CreatedAt   time.Time  `db:"created_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// BookInput carries the fields of a new book.
type BookInput struct {
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// Validate checks the required fields and ranges.
func (in BookInput) Validate() error {
	var problems []string
	if strings.TrimSpace(in.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		problems = append(problems, "author is required")
	}
	if in.Price.IsNegative() {
		problems = append(problems, "price must not be negative")
	}
	if in.Stock < 0 {
		problems = append(problems, "stock must not be negative")
	}
	return validation(problems)
}

// BookPatch is a partial update. A nil field is left unchanged.
type BookPatch struct {
	Title       *string          `json:"title,omitempty"`
	Author      *string          `json:"author,omitempty"`
	Description *string          `json:"description,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p BookPatch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.Description == nil && p.Price == nil && p.Stock == nil
}

// Validate checks the fields the patch sets.
func (p BookPatch) Validate() error {
	var problems []string
	if p.Empty() {
		problems = append(problems, "no fields to update")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		problems = append(problems, "title must not be empty")
	}
	if p.Author != nil && strings.TrimSpace(*p.Author) == "" {
		problems = append(problems, "author must not be empty")
	}
	if p.Price != nil && p.Price.IsNegative() {
		problems = append(problems, "price must not be negative")
	}
	if p.Stock != nil && *p.Stock < 0 {
		problems = append(problems, "stock must not be negative")
	}
	return validation(problems)
}

// Apply copies the set fields onto b.
func (p BookPatch) Apply(b *Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Price != nil {
		b.Price = *p.Price
	}
	if p.Stock != nil {
		b.Stock = *p.Stock
	}
}

func validation(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
}

// bookEvent builds the outbox row for a change to b. Created and updated events
// carry the full row so the replica heals after a missed message.
func bookEvent(eventType string, b *Book) (Event, error) {
	data := events.BookData{ID: b.ID, Version: &b.Version}
	if eventType != events.BookDeleted {
		data.Title = &b.Title
		data.Author = &b.Author
		data.Description = &b.Description
		data.Price = &b.Price
		data.Stock = &b.Stock
	}
	body, err := events.Encode(eventType, data)
	if err != nil {
		return Event{}, err
	}
	return Event{BookID: b.ID, Type: eventType, Version: b.Version, Body: body}, nil
}
