// Package types provides common type definitions for the share indexer.
package types

import "fmt"

// SourceID identifies an on-chain event source (one contract feed).
type SourceID string

const (
	// SourceShareToken is the fractional share token contract feed.
	SourceShareToken SourceID = "sharetoken"
	// SourceMarketplace is the listing marketplace contract feed.
	SourceMarketplace SourceID = "marketplace"
)

// ListingState represents the lifecycle state of a marketplace listing.
type ListingState string

const (
	// ListingActive represents a listing that can still be cancelled or purchased.
	ListingActive ListingState = "active"
	// ListingCancelled represents a listing withdrawn by its seller.
	ListingCancelled ListingState = "cancelled"
	// ListingPurchased represents a listing bought out by a buyer.
	ListingPurchased ListingState = "purchased"
)

// Terminal reports whether the state permits no further transitions.
func (s ListingState) Terminal() bool {
	return s == ListingCancelled || s == ListingPurchased
}

// SentinelAddress is the reserved "no real holder" address. A transfer from
// it is a mint, a transfer to it is a burn.
const SentinelAddress = "0x0000000000000000000000000000000000000000"

// EventKey is the composite identity of one applied event. ItemIndex is zero
// for plain events and the array position for exploded batch transfer items.
type EventKey struct {
	TxHash    string
	LogIndex  uint
	ItemIndex int
}

// String renders the key in its canonical txHash:logIndex:itemIndex form,
// which is also the value stored by the idempotency guard.
func (k EventKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.TxHash, k.LogIndex, k.ItemIndex)
}
