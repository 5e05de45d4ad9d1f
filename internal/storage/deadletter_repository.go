package storage

import (
	"context"
	"fmt"

	"github.com/propshare/share-indexer/internal/models"
)

// DeadLetterRepository persists events that decoded cleanly but could not
// be applied yet. The rows are diagnostics plus a worklist for targeted
// backfill replays; applying the event later is handled by the normal
// replay path, not by mutating these rows.
type DeadLetterRepository struct {
	db *PostgresDB
}

// NewDeadLetterRepository creates a new dead letter repository
func NewDeadLetterRepository(db *PostgresDB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// RecordSkipped stores one skipped event. Re-recording the same event on a
// later pass just refreshes the reason.
func (r *DeadLetterRepository) RecordSkipped(ctx context.Context, ev *models.SkippedEvent) error {
	query := `
		INSERT INTO skipped_events (
			source, tx_hash, log_index, item_index, block_number, reason, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tx_hash, log_index, item_index) DO UPDATE SET
			reason = EXCLUDED.reason,
			recorded_at = NOW()
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		ev.Source,
		ev.TxHash,
		ev.LogIndex,
		ev.ItemIndex,
		ev.BlockNumber,
		ev.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record skipped event: %w", err)
	}

	return nil
}

// ListSkipped returns recorded skipped events, oldest block first, so an
// operator can pick replay ranges that cover them.
func (r *DeadLetterRepository) ListSkipped(ctx context.Context, limit int) ([]*models.SkippedEvent, error) {
	query := `
		SELECT source, tx_hash, log_index, item_index, block_number, reason, recorded_at
		FROM skipped_events
		ORDER BY block_number, tx_hash, log_index, item_index
		LIMIT $1
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list skipped events: %w", err)
	}
	defer rows.Close()

	var skipped []*models.SkippedEvent
	for rows.Next() {
		var ev models.SkippedEvent
		if err := rows.Scan(
			&ev.Source,
			&ev.TxHash,
			&ev.LogIndex,
			&ev.ItemIndex,
			&ev.BlockNumber,
			&ev.Reason,
			&ev.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan skipped event: %w", err)
		}
		skipped = append(skipped, &ev)
	}

	return skipped, rows.Err()
}
