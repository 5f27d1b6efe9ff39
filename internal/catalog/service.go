// internal/catalog/service.go
package catalog

import "context"

// Service defines the read-only catalog API over the replica.
type Service interface {
	ListBooks(ctx context.Context, query string) ([]Book, error)
	GetBook(ctx context.Context, id int64) (*Book, error)
}
