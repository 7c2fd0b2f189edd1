package domain

import "time"

// ProductStock is the authoritative per-product quantity counter.
// AvailableQuantity never goes below zero; Version increases by one on
// every successful mutation and is the compare-and-swap token.
type ProductStock struct {
	ProductID         string
	AvailableQuantity int64
	Version           int64
	AlwaysAvailable   bool
	Retired           bool
	UpdatedAt         time.Time
}

// SoldOut reports whether the product currently has no stock left.
// Always-available listings are never sold out.
func (p ProductStock) SoldOut() bool {
	return !p.AlwaysAvailable && p.AvailableQuantity == 0
}
