// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"bookstore/internal/events"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("book not found")

// Book is the catalog's replica of an inventory record. It is written only by
// the Reconciler and may lag the purchase service.
type Book struct {
	ID          int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title       string          `gorm:"not null" json:"title"`
	Author      string          `gorm:"not null" json:"author"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Stock       int             `gorm:"not null" json:"stock"`
	Version     int             `gorm:"not null" json:"version"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Book) TableName() string { return "book_replicas" }

// Merge applies every field data carries onto b; absent fields keep their
// value. A payload whose version is older than b's is stale and is not
// applied, and Merge then returns false. Payloads without a version always apply.
func Merge(b *Book, data events.BookData) bool {
	if data.Version != nil && *data.Version < b.Version {
		return false
	}
	if data.Title != nil {
		b.Title = *data.Title
	}
	if data.Author != nil {
		b.Author = *data.Author
	}
	if data.Description != nil {
		b.Description = *data.Description
	}
	if data.Price != nil {
		b.Price = *data.Price
	}
	if data.Stock != nil {
		b.Stock = *data.Stock
	}
	if data.Version != nil {
		b.Version = *data.Version
	}
	return true
}
