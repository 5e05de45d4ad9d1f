package guard

import (
	"context"
	"fmt"

	"github.com/propshare/share-indexer/internal/storage"
	"github.com/propshare/share-indexer/internal/types"
)

// PostgresGuard is the authoritative Guard. Claims live in the
// applied_events table; the primary-key conflict on insert is what makes a
// repeated claim lose. The claim joins any transaction carried by ctx, so
// inside the projector's per-event transaction a rollback discards the
// claim together with the aggregate writes.
type PostgresGuard struct {
	db *storage.PostgresDB
}

// NewPostgresGuard creates a guard backed by the given database.
func NewPostgresGuard(db *storage.PostgresDB) *PostgresGuard {
	return &PostgresGuard{db: db}
}

// TryClaim inserts the key, reporting whether this call won the insert.
func (g *PostgresGuard) TryClaim(ctx context.Context, key types.EventKey) (bool, error) {
	query := `
		INSERT INTO applied_events (tx_hash, log_index, item_index)
		VALUES ($1, $2, $3)
		ON CONFLICT (tx_hash, log_index, item_index) DO NOTHING
	`

	result, err := g.db.Querier(ctx).Exec(ctx, query, key.TxHash, key.LogIndex, key.ItemIndex)
	if err != nil {
		return false, fmt.Errorf("failed to claim event %s: %w", key, err)
	}

	return result.RowsAffected() > 0, nil
}

// Release deletes the key so a later replay pass can claim it again. A
// claim made inside a since-rolled-back transaction is already gone; the
// delete then matches nothing.
func (g *PostgresGuard) Release(ctx context.Context, key types.EventKey) error {
	query := `DELETE FROM applied_events WHERE tx_hash = $1 AND log_index = $2 AND item_index = $3`

	if _, err := g.db.Querier(ctx).Exec(ctx, query, key.TxHash, key.LogIndex, key.ItemIndex); err != nil {
		return fmt.Errorf("failed to release event %s: %w", key, err)
	}
	return nil
}
