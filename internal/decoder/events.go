package decoder

import (
	"time"

	"github.com/propshare/share-indexer/internal/types"
)

// Meta carries the chain coordinates shared by every decoded event. The
// tuple (BlockNumber, TxIndex, LogIndex, ItemIndex) is the global merge
// order across all sources feeding one projector.
type Meta struct {
	Source      types.SourceID
	BlockNumber uint64
	BlockHash   string
	TxHash      string
	TxIndex     uint
	LogIndex    uint
	ItemIndex   int
	Timestamp   time.Time
}

// Key returns the composite idempotency key for the event.
func (m Meta) Key() types.EventKey {
	return types.EventKey{TxHash: m.TxHash, LogIndex: m.LogIndex, ItemIndex: m.ItemIndex}
}

// EventMeta returns the event's chain coordinates.
func (m Meta) EventMeta() Meta { return m }

// Event is one decoded, normalized ledger event. Batched transfers are
// exploded into one SharesTransferred per array item before they reach
// the projector, so implementations here are always single-item.
type Event interface {
	EventMeta() Meta
}

// PropertyCreated announces a new tokenized property.
type PropertyCreated struct {
	Meta
	PropertyID    int64
	Name          string
	Location      string
	TotalShares   int64
	PricePerShare int64
}

// SharesTransferred is a single share movement, either a plain transfer or
// one exploded item of a batch. From equal to the sentinel address is a
// mint; To equal to the sentinel is a burn.
type SharesTransferred struct {
	Meta
	PropertyID int64
	From       string
	To         string
	Amount     int64
}

// RentDeposited credits net rent revenue to a property. Gross, fee and net
// are carried independently for audit.
type RentDeposited struct {
	Meta
	PropertyID  int64
	GrossAmount int64
	FeeAmount   int64
	NetAmount   int64
}

// RewardClaimed records a holder claiming accumulated rewards.
type RewardClaimed struct {
	Meta
	PropertyID int64
	Holder     string
	Amount     int64
}

// ListingCreated opens a marketplace listing.
type ListingCreated struct {
	Meta
	ListingID     int64
	PropertyID    int64
	Seller        string
	Amount        int64
	PricePerShare int64
}

// ListingCancelled closes a listing without a sale.
type ListingCancelled struct {
	Meta
	ListingID int64
}

// ListingPurchased closes a listing with a sale.
type ListingPurchased struct {
	Meta
	ListingID int64
	Buyer     string
}
