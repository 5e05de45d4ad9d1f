package models

import "time"

// DriftCorrection is the diagnostic record emitted when the reconciler finds
// a projected holder balance diverging from the chain. Applied is false when
// the correction lost the compare-and-swap against a newer projection write.
type DriftCorrection struct {
	ID               string    `json:"id" db:"id"`
	PropertyID       int64     `json:"propertyId" db:"property_id"`
	Address          string    `json:"address" db:"address"`
	ProjectedBalance int64     `json:"projectedBalance" db:"projected_balance"`
	ChainBalance     int64     `json:"chainBalance" db:"chain_balance"`
	ReadBlock        uint64    `json:"readBlock" db:"read_block"`
	Applied          bool      `json:"applied" db:"applied"`
	DetectedAt       time.Time `json:"detectedAt" db:"detected_at"`
}

// SkippedEvent records an event that decoded cleanly but could not be
// applied yet, typically a deposit whose property has not been indexed.
// A later replay pass over the recorded range picks it up.
type SkippedEvent struct {
	Source      string    `json:"source" db:"source"`
	TxHash      string    `json:"txHash" db:"tx_hash"`
	LogIndex    uint      `json:"logIndex" db:"log_index"`
	ItemIndex   int       `json:"itemIndex" db:"item_index"`
	BlockNumber uint64    `json:"blockNumber" db:"block_number"`
	Reason      string    `json:"reason" db:"reason"`
	RecordedAt  time.Time `json:"recordedAt" db:"recorded_at"`
}
