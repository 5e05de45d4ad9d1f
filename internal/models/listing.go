package models

import (
	"time"

	"github.com/propshare/share-indexer/internal/types"
)

// Listing is the projected state of one marketplace listing. It transitions
// at most once from active into a terminal state and is immutable afterwards.
type Listing struct {
	ID             int64              `json:"id" db:"id"`
	PropertyID     int64              `json:"propertyId" db:"property_id"`
	Seller         string             `json:"seller" db:"seller"`
	Amount         int64              `json:"amount" db:"amount"`
	PricePerShare  int64              `json:"pricePerShare" db:"price_per_share"`
	State          types.ListingState `json:"state" db:"state"`
	Buyer          *string            `json:"buyer,omitempty" db:"buyer"`
	CreatedAt      time.Time          `json:"createdAt" db:"created_at"`
	TerminalAt     *time.Time         `json:"terminalAt,omitempty" db:"terminal_at"`
	LastEventBlock uint64             `json:"lastEventBlock" db:"last_event_block"`
}
