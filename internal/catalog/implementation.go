// internal/catalog/implementation.go
package catalog

import (
	"context"
)

// service implements the Service interface.
type service struct {
	store Store
}

// NewService creates a new catalog service instance.
func NewService(store Store) Service {
	return &service{store: store}
}

// ListBooks returns the replica, optionally filtered by title or author.
func (s *service) ListBooks(ctx context.Context, query string) ([]Book, error) {
	return s.store.List(ctx, query)
}

func (s *service) GetBook(ctx context.Context, id int64) (*Book, error) {
	return s.store.Get(ctx, id)
}
