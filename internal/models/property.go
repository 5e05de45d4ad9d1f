package models

import "time"

// Property is the projected aggregate for one tokenized property. It is
// created exactly once by a PropertyCreated event and never deleted.
// TotalDeposited only grows, and only through RentDeposited events.
type Property struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Location       string    `json:"location" db:"location"`
	TotalShares    int64     `json:"totalShares" db:"total_shares"`
	PricePerShare  int64     `json:"pricePerShare" db:"price_per_share"`
	TotalDeposited int64     `json:"totalDeposited" db:"total_deposited"`
	LastEventBlock uint64    `json:"lastEventBlock" db:"last_event_block"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}
