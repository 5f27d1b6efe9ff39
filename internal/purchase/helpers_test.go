package purchase

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"bookstore/internal/broker"
	"bookstore/internal/clients"
	"bookstore/internal/events"
	"bookstore/internal/postgres"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubIdentity accepts the tokens in users, reports "down" as unreachable and
// rejects everything else.
type stubIdentity map[string]clients.User

func (s stubIdentity) Validate(_ context.Context, token string) (*clients.User, error) {
	if token == "down" {
		return nil, fmt.Errorf("%w: connection refused", clients.ErrUpstreamUnavailable)
	}
	u, ok := s[token]
	if !ok {
		return nil, fmt.Errorf("%w: auth service answered 401", clients.ErrUnauthorized)
	}
	return &u, nil
}

var testUsers = stubIdentity{"valid": {ID: 42, Email: "reader@example.com"}}

type fixture struct {
	ledger  Ledger
	channel *broker.Channel
	relay   *Relay
	svc     Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := NewMemoryLedger()
	ch := broker.NewChannel()
	relay := NewRelay(ledger, ch, nil, 10, 10*time.Millisecond)
	return &fixture{
		ledger:  ledger,
		channel: ch,
		relay:   relay,
		svc:     NewService(ledger, relay, testUsers),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// decodePublished decodes every message the channel accepted.
func decodePublished(t *testing.T, ch *broker.Channel) ([]string, []events.BookData) {
	t.Helper()
	var types []string
	var data []events.BookData
	for _, body := range ch.Published() {
		typ, d, err := events.Decode(body)
		require.NoError(t, err)
		types = append(types, typ)
		data = append(data, d)
	}
	return types, data
}

// setupTestLedger connects to the PostgreSQL database named by the PG*
// variables, skipping the test when none is reachable unless REQUIRE_POSTGRES
// is set.
func setupTestLedger(t *testing.T) *PostgresLedger {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"), envOr("PGPORT", "5432"), envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"), envOr("PGDATABASE", "testdb"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	db, err := postgres.OpenSQLX(ctx, connStr)
	if err != nil {
		skipWithoutPostgres(t, err)
	}
	t.Cleanup(func() { db.Close() })

	l := NewPostgresLedger(db)
	require.NoError(t, l.EnsureSchema(context.Background()))
	_, err = db.Exec(`TRUNCATE TABLE delivery_assignments, payments, purchases, delivery_providers, books, book_events RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return l
}

func skipWithoutPostgres(t *testing.T, err error) {
	t.Helper()
	if os.Getenv("REQUIRE_POSTGRES") != "" {
		t.Fatalf("postgres required: %v", err)
	}
	t.Skipf("skipping postgres tests: %v", err)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
