// internal/purchase/ledger_postgres.go
package purchase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bookstore/internal/events"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const schema = `
CREATE TABLE IF NOT EXISTS books (
	id          BIGSERIAL PRIMARY KEY,
	title       TEXT NOT NULL,
	author      TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
	stock       INTEGER NOT NULL CHECK (stock >= 0),
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS purchases (
	id          BIGSERIAL PRIMARY KEY,
	user_id     BIGINT NOT NULL,
	book_id     BIGINT NOT NULL,
	book_name   TEXT NOT NULL DEFAULT '',
	quantity    INTEGER NOT NULL CHECK (quantity > 0),
	total_price NUMERIC(14,2) NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payments (
	id             BIGSERIAL PRIMARY KEY,
	purchase_id    BIGINT NOT NULL REFERENCES purchases(id) ON DELETE CASCADE,
	amount         NUMERIC(14,2) NOT NULL,
	payment_method TEXT NOT NULL,
	payment_status TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS delivery_providers (
	id      BIGSERIAL PRIMARY KEY,
	name    TEXT NOT NULL,
	contact TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS delivery_assignments (
	id          BIGSERIAL PRIMARY KEY,
	purchase_id BIGINT NOT NULL REFERENCES purchases(id) ON DELETE CASCADE,
	provider_id BIGINT NOT NULL REFERENCES delivery_providers(id),
	status      TEXT NOT NULL DEFAULT 'Pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS book_events (
	id           BIGSERIAL PRIMARY KEY,
	book_id      BIGINT NOT NULL,
	event_type   TEXT NOT NULL,
	version      INTEGER NOT NULL,
	body         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_book_events_pending ON book_events (id) WHERE published_at IS NULL;
`

const (
	bookColumns       = `id, title, author, description, price, stock, version, created_at, updated_at`
	purchaseColumns   = `id, user_id, book_id, book_name, quantity, total_price, status, created_at, updated_at`
	paymentColumns    = `id, purchase_id, amount, payment_method, payment_status, created_at`
	assignmentColumns = `id, purchase_id, provider_id, status, created_at`
	eventColumns      = `id, book_id, event_type, version, body, created_at, published_at`
)

// PostgresLedger implements Ledger on PostgreSQL through sqlx.
type PostgresLedger struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewPostgresLedger wraps an open pool.
func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db, tracer: otel.Tracer("bookstore/purchase")}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) inTx(ctx context.Context, name string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, span := l.tracer.Start(ctx, "ledger."+name)
	defer span.End()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name)
		return err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (l *PostgresLedger) CreateBook(ctx context.Context, in BookInput) (*Book, Event, error) {
	var b Book
	var ev Event
	err := l.inTx(ctx, "create_book", func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &b, `
			INSERT INTO books (title, author, description, price, stock)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+bookColumns,
			in.Title, in.Author, in.Description, in.Price, in.Stock)
		if err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
		ev, err = appendEvent(ctx, tx, events.BookCreated, &b)
		return err
	})
	if err != nil {
		return nil, Event{}, err
	}
	return &b, ev, nil
}

func (l *PostgresLedger) UpdateBook(ctx context.Context, id int64, patch BookPatch) (*Book, Event, error) {
	var b *Book
	var ev Event
	err := l.inTx(ctx, "update_book", func(ctx context.Context, tx *sqlx.Tx) error {
		cur, err := lockBook(ctx, tx, id)
		if err != nil {
			return err
		}
		patch.Apply(cur)

		b = &Book{}
		err = tx.GetContext(ctx, b, `
			UPDATE books
			SET title = $2, author = $3, description = $4, price = $5, stock = $6,
			    version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING `+bookColumns,
			id, cur.Title, cur.Author, cur.Description, cur.Price, cur.Stock)
		if err != nil {
			return fmt.Errorf("update book %d: %w", id, err)
		}
		ev, err = appendEvent(ctx, tx, events.BookUpdated, b)
		return err
	})
	if err != nil {
		return nil, Event{}, err
	}
	return b, ev, nil
}

func (l *PostgresLedger) DeleteBook(ctx context.Context, id int64) (Event, error) {
	var ev Event
	err := l.inTx(ctx, "delete_book", func(ctx context.Context, tx *sqlx.Tx) error {
		b, err := lockBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete book %d: %w", id, err)
		}
		b.Version++
		ev, err = appendEvent(ctx, tx, events.BookDeleted, b)
		return err
	})
	return ev, err
}

func (l *PostgresLedger) GetBook(ctx context.Context, id int64) (*Book, error) {
	var b Book
	err := l.db.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return &b, nil
}

func (l *PostgresLedger) ListBooks(ctx context.Context) ([]Book, error) {
	books := []Book{}
	if err := l.db.SelectContext(ctx, &books, `SELECT `+bookColumns+` FROM books ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// CreatePurchase locks the book row, checks stock, decrements it and inserts the
// purchase in one transaction.
func (l *PostgresLedger) CreatePurchase(ctx context.Context, userID, bookID int64, quantity int) (*Purchase, Event, error) {
	var p Purchase
	var ev Event
	err := l.inTx(ctx, "create_purchase", func(ctx context.Context, tx *sqlx.Tx) error {
		b, err := lockBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if quantity > b.Stock {
			return fmt.Errorf("%w: book %d has %d in stock, %d requested", ErrInsufficientStock, bookID, b.Stock, quantity)
		}

		err = tx.GetContext(ctx, b, `
			UPDATE books
			SET stock = stock - $2, version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING `+bookColumns,
			bookID, quantity)
		if err != nil {
			return fmt.Errorf("decrement stock of book %d: %w", bookID, err)
		}

		total := b.Price.Mul(decimal.NewFromInt(int64(quantity)))
		err = tx.GetContext(ctx, &p, `
			INSERT INTO purchases (user_id, book_id, book_name, quantity, total_price, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+purchaseColumns,
			userID, bookID, b.Title, quantity, total, StatusPendingPayment)
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}

		ev, err = appendEvent(ctx, tx, events.BookUpdated, b)
		return err
	})
	if err != nil {
		return nil, Event{}, err
	}
	return &p, ev, nil
}

func (l *PostgresLedger) GetPurchase(ctx context.Context, id int64) (*Purchase, error) {
	var p Purchase
	err := l.db.GetContext(ctx, &p, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: purchase %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase %d: %w", id, err)
	}
	return &p, nil
}

func (l *PostgresLedger) ListPurchases(ctx context.Context) ([]Purchase, error) {
	purchases := []Purchase{}
	if err := l.db.SelectContext(ctx, &purchases, `SELECT `+purchaseColumns+` FROM purchases ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, nil
}

func (l *PostgresLedger) UpdatePurchaseStatus(ctx context.Context, id int64, to Status) (*Purchase, *Event, error) {
	var p *Purchase
	var ev *Event
	err := l.inTx(ctx, "update_purchase_status", func(ctx context.Context, tx *sqlx.Tx) error {
		cur, err := lockPurchase(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, to) {
			return fmt.Errorf("%w: purchase %d is %q, cannot become %q", ErrInvalidTransition, id, cur.Status, to)
		}

		if to == StatusCancelled {
			ev, err = restock(ctx, tx, cur.BookID, cur.Quantity)
			if err != nil {
				return err
			}
		}

		p, err = setPurchaseStatus(ctx, tx, id, to)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return p, ev, nil
}

// restock returns quantity to a book's stock. A book deleted since the purchase
// is skipped and yields no event.
func restock(ctx context.Context, tx *sqlx.Tx, bookID int64, quantity int) (*Event, error) {
	if _, err := lockBook(ctx, tx, bookID); errors.Is(err, ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var b Book
	err := tx.GetContext(ctx, &b, `
		UPDATE books
		SET stock = stock + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+bookColumns,
		bookID, quantity)
	if err != nil {
		return nil, fmt.Errorf("restock book %d: %w", bookID, err)
	}
	ev, err := appendEvent(ctx, tx, events.BookUpdated, &b)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (l *PostgresLedger) DeletePurchase(ctx context.Context, id int64) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM purchases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete purchase %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: purchase %d", ErrNotFound, id)
	}
	return nil
}

// RecordPayment stores a completed payment and marks the purchase Paid. The
// amount must equal the purchase's total price.
func (l *PostgresLedger) RecordPayment(ctx context.Context, purchaseID int64, amount decimal.Decimal, method string) (*Payment, error) {
	var pay Payment
	err := l.inTx(ctx, "record_payment", func(ctx context.Context, tx *sqlx.Tx) error {
		p, err := lockPurchase(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status != StatusPendingPayment {
			return fmt.Errorf("%w: purchase %d is %q, not awaiting payment", ErrInvalidTransition, purchaseID, p.Status)
		}
		if !amount.Equal(p.TotalPrice) {
			return fmt.Errorf("%w: amount %s does not match total price %s", ErrValidation, amount, p.TotalPrice)
		}

		err = tx.GetContext(ctx, &pay, `
			INSERT INTO payments (purchase_id, amount, payment_method, payment_status)
			VALUES ($1, $2, $3, $4)
			RETURNING `+paymentColumns,
			purchaseID, amount, method, PaymentCompleted)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		_, err = setPurchaseStatus(ctx, tx, purchaseID, StatusPaid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &pay, nil
}

func (l *PostgresLedger) ListPayments(ctx context.Context) ([]Payment, error) {
	payments := []Payment{}
	if err := l.db.SelectContext(ctx, &payments, `SELECT `+paymentColumns+` FROM payments ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

func (l *PostgresLedger) CreateProvider(ctx context.Context, name, contact string) (*Provider, error) {
	var p Provider
	err := l.db.GetContext(ctx, &p, `
		INSERT INTO delivery_providers (name, contact) VALUES ($1, $2)
		RETURNING id, name, contact`, name, contact)
	if err != nil {
		return nil, fmt.Errorf("insert provider: %w", err)
	}
	return &p, nil
}

func (l *PostgresLedger) ListProviders(ctx context.Context) ([]Provider, error) {
	providers := []Provider{}
	if err := l.db.SelectContext(ctx, &providers, `SELECT id, name, contact FROM delivery_providers ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

// AssignDelivery hands a paid purchase to a provider and marks it On Delivery.
func (l *PostgresLedger) AssignDelivery(ctx context.Context, purchaseID, providerID int64) (*Assignment, error) {
	var a Assignment
	err := l.inTx(ctx, "assign_delivery", func(ctx context.Context, tx *sqlx.Tx) error {
		p, err := lockPurchase(ctx, tx, purchaseID)
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM delivery_providers WHERE id = $1)`, providerID); err != nil {
			return fmt.Errorf("look up provider %d: %w", providerID, err)
		}
		if !exists {
			return fmt.Errorf("%w: provider %d", ErrNotFound, providerID)
		}

		if !CanTransition(p.Status, StatusOnDelivery) {
			return fmt.Errorf("%w: purchase %d is %q, not paid", ErrInvalidTransition, purchaseID, p.Status)
		}

		err = tx.GetContext(ctx, &a, `
			INSERT INTO delivery_assignments (purchase_id, provider_id, status)
			VALUES ($1, $2, $3)
			RETURNING `+assignmentColumns,
			purchaseID, providerID, AssignmentAssigned)
		if err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
		_, err = setPurchaseStatus(ctx, tx, purchaseID, StatusOnDelivery)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (l *PostgresLedger) ListAssignments(ctx context.Context) ([]Assignment, error) {
	assignments := []Assignment{}
	if err := l.db.SelectContext(ctx, &assignments, `SELECT `+assignmentColumns+` FROM delivery_assignments ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}

func (l *PostgresLedger) PendingEvents(ctx context.Context, after int64, limit int) ([]Event, error) {
	evs := []Event{}
	err := l.db.SelectContext(ctx, &evs, `
		SELECT `+eventColumns+`
		FROM book_events
		WHERE published_at IS NULL AND id > $1
		ORDER BY id
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	return evs, nil
}

func (l *PostgresLedger) MarkPublished(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE book_events SET published_at = NOW()
		WHERE id = ANY($1) AND published_at IS NULL`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func lockBook(ctx context.Context, tx *sqlx.Tx, id int64) (*Book, error) {
	var b Book
	err := tx.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM books WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: book %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock book %d: %w", id, err)
	}
	return &b, nil
}

func lockPurchase(ctx context.Context, tx *sqlx.Tx, id int64) (*Purchase, error) {
	var p Purchase
	err := tx.GetContext(ctx, &p, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: purchase %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lock purchase %d: %w", id, err)
	}
	return &p, nil
}

func setPurchaseStatus(ctx context.Context, tx *sqlx.Tx, id int64, to Status) (*Purchase, error) {
	var p Purchase
	err := tx.GetContext(ctx, &p, `
		UPDATE purchases SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+purchaseColumns, id, to)
	if err != nil {
		return nil, fmt.Errorf("set status of purchase %d: %w", id, err)
	}
	return &p, nil
}

// appendEvent writes the outbox row describing the current state of b.
func appendEvent(ctx context.Context, tx *sqlx.Tx, eventType string, b *Book) (Event, error) {
	ev, err := bookEvent(eventType, b)
	if err != nil {
		return Event{}, err
	}
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO book_events (book_id, event_type, version, body)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id, created_at`,
		ev.BookID, ev.Type, ev.Version, string(ev.Body)).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("append %s event for book %d: %w", eventType, b.ID, err)
	}
	return ev, nil
}
