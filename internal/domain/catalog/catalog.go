// Package catalog exposes the read side of the product catalog. Catalog
// management (creation, images, stock toggling) lives outside this service;
// pricing only needs prices and availability.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("catalog item not found")

// Item is a purchasable catalog entry.
type Item struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	InStock  bool
}

// Repository defines catalog lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Item, error)
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
	List(ctx context.Context) ([]Item, error)
}
