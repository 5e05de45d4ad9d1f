// Package guard provides idempotent event application keyed by the
// composite (txHash, logIndex, itemIndex) event identity.
package guard

import (
	"context"

	"github.com/propshare/share-indexer/internal/types"
)

// Guard deduplicates event application. TryClaim returns true and records
// the key on first call; any later call for the same key returns false,
// whether it comes from live-tailing, backfill, or reorg replay. This is
// the single mechanism keeping replays from double-mutating an aggregate.
//
// Release undoes a claim. The authoritative guard claims inside the
// projector's per-event transaction, where a rollback already discards the
// claim; Release covers guards whose claims live outside it, so the event
// stays claimable for a later replay pass after a handler failure.
type Guard interface {
	TryClaim(ctx context.Context, key types.EventKey) (bool, error)
	Release(ctx context.Context, key types.EventKey) error
}
