package storage

import (
	"context"
	"fmt"

	"github.com/propshare/share-indexer/internal/models"
)

// DriftRepository persists drift correction diagnostics.
type DriftRepository struct {
	db *PostgresDB
}

// NewDriftRepository creates a new drift repository
func NewDriftRepository(db *PostgresDB) *DriftRepository {
	return &DriftRepository{db: db}
}

// RecordCorrection stores one drift correction record.
func (r *DriftRepository) RecordCorrection(ctx context.Context, c *models.DriftCorrection) error {
	query := `
		INSERT INTO drift_corrections (
			id, property_id, address, projected_balance, chain_balance,
			read_block, applied, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		c.ID,
		c.PropertyID,
		c.Address,
		c.ProjectedBalance,
		c.ChainBalance,
		c.ReadBlock,
		c.Applied,
		c.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record drift correction: %w", err)
	}

	return nil
}

// ListCorrections returns the most recent drift corrections.
func (r *DriftRepository) ListCorrections(ctx context.Context, limit int) ([]*models.DriftCorrection, error) {
	query := `
		SELECT id, property_id, address, projected_balance, chain_balance,
		       read_block, applied, detected_at
		FROM drift_corrections
		ORDER BY detected_at DESC
		LIMIT $1
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift corrections: %w", err)
	}
	defer rows.Close()

	var corrections []*models.DriftCorrection
	for rows.Next() {
		var c models.DriftCorrection
		if err := rows.Scan(
			&c.ID,
			&c.PropertyID,
			&c.Address,
			&c.ProjectedBalance,
			&c.ChainBalance,
			&c.ReadBlock,
			&c.Applied,
			&c.DetectedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan drift correction: %w", err)
		}
		corrections = append(corrections, &c)
	}

	return corrections, rows.Err()
}
