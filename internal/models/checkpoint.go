package models

import (
	"time"

	"github.com/propshare/share-indexer/internal/types"
)

// Checkpoint is the per-source high-water mark of fully processed blocks.
// BlockHash is kept so a later run can detect a reorg at the checkpointed
// block before resuming.
type Checkpoint struct {
	Source      types.SourceID `json:"source" db:"source"`
	BlockNumber uint64         `json:"blockNumber" db:"block_number"`
	BlockHash   string         `json:"blockHash" db:"block_hash"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
}
