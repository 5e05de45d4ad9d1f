package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/types"
)

// CheckpointRepository persists the per-source processing high-water mark.
type CheckpointRepository struct {
	db *PostgresDB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(db *PostgresDB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// GetCheckpoint returns the source's checkpoint, or ErrNotFound when the
// source has never committed one.
func (r *CheckpointRepository) GetCheckpoint(ctx context.Context, source types.SourceID) (*models.Checkpoint, error) {
	query := `
		SELECT source, block_number, block_hash, updated_at
		FROM checkpoints
		WHERE source = $1
	`

	var cp models.Checkpoint
	var src string
	err := r.db.Querier(ctx).QueryRow(ctx, query, string(source)).Scan(
		&src,
		&cp.BlockNumber,
		&cp.BlockHash,
		&cp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: checkpoint for %s", ErrNotFound, source)
		}
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", source, err)
	}
	cp.Source = types.SourceID(src)

	return &cp, nil
}

// SetCheckpoint writes the source's checkpoint, forward or backward. A
// backward write is how a reorg rewind schedules reprocessing.
func (r *CheckpointRepository) SetCheckpoint(ctx context.Context, source types.SourceID, block uint64, hash string) error {
	query := `
		INSERT INTO checkpoints (source, block_number, block_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (source) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			block_hash = EXCLUDED.block_hash,
			updated_at = NOW()
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query, string(source), block, hash)
	if err != nil {
		return fmt.Errorf("failed to set checkpoint for %s: %w", source, err)
	}

	return nil
}
