package models

import "time"

// Holder is the projected share position of one address in one property,
// keyed by (propertyId, address). It is created lazily on the first transfer
// or claim that references the pair and persists even at zero balance.
// TotalClaimed only grows, and only through RewardClaimed events.
type Holder struct {
	PropertyID     int64     `json:"propertyId" db:"property_id"`
	Address        string    `json:"address" db:"address"`
	Balance        int64     `json:"balance" db:"balance"`
	TotalClaimed   int64     `json:"totalClaimed" db:"total_claimed"`
	LastEventBlock uint64    `json:"lastEventBlock" db:"last_event_block"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}
