// internal/catalog/store.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"bookstore/internal/events"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store holds the replica. Apply is upsert by id: an unseen id is inserted
// from the payload, a known one has the payload's fields merged in.
type Store interface {
	Apply(ctx context.Context, data events.BookData) (applied bool, err error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*Book, error)
	// List returns books ordered by id. A non-empty query keeps books whose
	// title or author contains it, ignoring case.
	List(ctx context.Context, query string) ([]Book, error)
}

// GormStore keeps the replica in the book_replicas table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the replica table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Book{}); err != nil {
		return fmt.Errorf("failed to migrate replica schema: %w", err)
	}
	return nil
}

func (s *GormStore) Apply(ctx context.Context, data events.BookData) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b Book
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, data.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			b = Book{ID: data.ID}
			applied = Merge(&b, data)
			return tx.Create(&b).Error
		}
		if err != nil {
			return err
		}
		if !Merge(&b, data) {
			return nil
		}
		applied = true
		return tx.Save(&b).Error
	})
	if err != nil {
		return false, fmt.Errorf("apply book %d: %w", data.ID, err)
	}
	return applied, nil
}

func (s *GormStore) Delete(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Delete(&Book{}, id).Error; err != nil {
		return fmt.Errorf("delete book %d: %w", id, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id int64) (*Book, error) {
	var b Book
	err := s.db.WithContext(ctx).First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return &b, nil
}

func (s *GormStore) List(ctx context.Context, query string) ([]Book, error) {
	books := []Book{}
	q := s.db.WithContext(ctx).Order("id")
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + query + "%"
		q = q.Where("title ILIKE ? OR author ILIKE ?", like, like)
	}
	if err := q.Find(&books).Error; err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[int64]Book
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: make(map[int64]Book)}
}

func (s *MemoryStore) Apply(_ context.Context, data events.BookData) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.books[data.ID]
	if !ok {
		b = Book{ID: data.ID}
	}
	if !Merge(&b, data) {
		return false, nil
	}
	b.UpdatedAt = time.Now().UTC()
	s.books[data.ID] = b
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	delete(s.books, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return &b, nil
}

func (s *MemoryStore) List(_ context.Context, query string) ([]Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	books := []Book{}
	for _, b := range s.books {
		if query == "" ||
			strings.Contains(strings.ToLower(b.Title), query) ||
			strings.Contains(strings.ToLower(b.Author), query) {
			books = append(books, b)
		}
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID < books[j].ID })
	return books, nil
}
