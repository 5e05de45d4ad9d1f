package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/propshare/share-indexer/internal/models"
)

// HolderRepository handles holder aggregate persistence. Rows are keyed by
// (property_id, address) and created lazily by the first write that touches
// the pair.
type HolderRepository struct {
	db *PostgresDB
}

// NewHolderRepository creates a new holder repository
func NewHolderRepository(db *PostgresDB) *HolderRepository {
	return &HolderRepository{db: db}
}

// GetHolder retrieves one holder position. Returns ErrNotFound when the
// pair has never been touched.
func (r *HolderRepository) GetHolder(ctx context.Context, propertyID int64, address string) (*models.Holder, error) {
	address = strings.ToLower(address)

	query := `
		SELECT property_id, address, balance, total_claimed, last_event_block, updated_at
		FROM holders
		WHERE property_id = $1 AND address = $2
	`

	var h models.Holder
	err := r.db.Querier(ctx).QueryRow(ctx, query, propertyID, address).Scan(
		&h.PropertyID,
		&h.Address,
		&h.Balance,
		&h.TotalClaimed,
		&h.LastEventBlock,
		&h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: holder (%d, %s)", ErrNotFound, propertyID, address)
		}
		return nil, fmt.Errorf("failed to get holder (%d, %s): %w", propertyID, address, err)
	}

	return &h, nil
}

// AdjustBalance applies a signed delta to the holder's balance, creating
// the row on first touch.
func (r *HolderRepository) AdjustBalance(ctx context.Context, propertyID int64, address string, delta int64, block uint64) error {
	address = strings.ToLower(address)

	query := `
		INSERT INTO holders (property_id, address, balance, total_claimed, last_event_block, updated_at)
		VALUES ($1, $2, $3, 0, $4, NOW())
		ON CONFLICT (property_id, address) DO UPDATE SET
			balance = holders.balance + EXCLUDED.balance,
			last_event_block = GREATEST(holders.last_event_block, EXCLUDED.last_event_block),
			updated_at = NOW()
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query, propertyID, address, delta, block)
	if err != nil {
		return fmt.Errorf("failed to adjust balance for (%d, %s): %w", propertyID, address, err)
	}

	return nil
}

// AddClaimed adds to the holder's cumulative claimed total, creating the
// row on first touch.
func (r *HolderRepository) AddClaimed(ctx context.Context, propertyID int64, address string, amount int64, block uint64) error {
	address = strings.ToLower(address)

	query := `
		INSERT INTO holders (property_id, address, balance, total_claimed, last_event_block, updated_at)
		VALUES ($1, $2, 0, $3, $4, NOW())
		ON CONFLICT (property_id, address) DO UPDATE SET
			total_claimed = holders.total_claimed + EXCLUDED.total_claimed,
			last_event_block = GREATEST(holders.last_event_block, EXCLUDED.last_event_block),
			updated_at = NOW()
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query, propertyID, address, amount, block)
	if err != nil {
		return fmt.Errorf("failed to add claimed for (%d, %s): %w", propertyID, address, err)
	}

	return nil
}

// ListHolders returns the holders of one property ordered by balance.
func (r *HolderRepository) ListHolders(ctx context.Context, propertyID int64, limit, offset int) ([]*models.Holder, error) {
	query := `
		SELECT property_id, address, balance, total_claimed, last_event_block, updated_at
		FROM holders
		WHERE property_id = $1
		ORDER BY balance DESC, address
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, propertyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list holders for property %d: %w", propertyID, err)
	}
	defer rows.Close()

	return scanHolders(rows)
}

// SampleHolders returns up to limit holders in random order for the drift
// reconciler. Sampling spreads checks across the whole table instead of
// hammering the most recently updated rows.
func (r *HolderRepository) SampleHolders(ctx context.Context, limit int) ([]*models.Holder, error) {
	query := `
		SELECT property_id, address, balance, total_claimed, last_event_block, updated_at
		FROM holders
		ORDER BY RANDOM()
		LIMIT $1
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample holders: %w", err)
	}
	defer rows.Close()

	return scanHolders(rows)
}

// CorrectBalance overwrites the holder's balance with the chain-read value,
// fenced on last_event_block: the write only lands when no event newer than
// readBlock has touched the row since the chain read. Reports whether the
// correction was applied.
func (r *HolderRepository) CorrectBalance(ctx context.Context, propertyID int64, address string, balance int64, readBlock uint64) (bool, error) {
	address = strings.ToLower(address)

	query := `
		UPDATE holders
		SET balance = $3, updated_at = NOW()
		WHERE property_id = $1 AND address = $2 AND last_event_block <= $4
	`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, propertyID, address, balance, readBlock)
	if err != nil {
		return false, fmt.Errorf("failed to correct balance for (%d, %s): %w", propertyID, address, err)
	}

	return tag.RowsAffected() > 0, nil
}

func scanHolders(rows pgx.Rows) ([]*models.Holder, error) {
	var holders []*models.Holder
	for rows.Next() {
		var h models.Holder
		if err := rows.Scan(
			&h.PropertyID,
			&h.Address,
			&h.Balance,
			&h.TotalClaimed,
			&h.LastEventBlock,
			&h.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan holder: %w", err)
		}
		holders = append(holders, &h)
	}
	return holders, rows.Err()
}
