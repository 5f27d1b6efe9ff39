// internal/auth/store.go
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// UserStore persists accounts and their credentials.
type UserStore interface {
	CreateUser(ctx context.Context, name, email string, cred Credential) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, *Credential, error)
	GetUser(ctx context.Context, id int64) (*User, error)
}

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	salt          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore is the UserStore backed by the users table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the users table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, name, email string, cred Credential) (*User, error) {
	query := `
		INSERT INTO users (name, email, password_hash, salt)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, email, created_at
	`
	u := &User{}
	err := s.db.QueryRowContext(ctx, query, name, email, cred.PasswordHash, cred.Salt).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*User, *Credential, error) {
	query := `
		SELECT id, name, email, created_at, password_hash, salt
		FROM users
		WHERE email = $1
	`
	u := &User{}
	c := &Credential{}
	err := s.db.QueryRowContext(ctx, query, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &c.PasswordHash, &c.Salt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find user by email: %w", err)
	}
	c.UserID = u.ID
	return u, c, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, name, email, created_at FROM users WHERE id = $1`
	u := &User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// MemoryStore is an in-process UserStore.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]User
	creds   map[int64]Credential
	byEmail map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int64]User),
		creds:   make(map[int64]Credential),
		byEmail: make(map[string]int64),
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, name, email string, cred Credential) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if _, ok := s.byEmail[key]; ok {
		return nil, ErrEmailTaken
	}
	s.nextID++
	u := User{ID: s.nextID, Name: name, Email: email, CreatedAt: time.Now().UTC()}
	cred.UserID = u.ID
	s.users[u.ID] = u
	s.creds[u.ID] = cred
	s.byEmail[key] = u.ID
	return &u, nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*User, *Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil, ErrNotFound
	}
	u, c := s.users[id], s.creds[id]
	return &u, &c, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return &u, nil
}
