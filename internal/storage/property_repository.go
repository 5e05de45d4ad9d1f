package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/propshare/share-indexer/internal/models"
)

// PropertyRepository handles property aggregate persistence
type PropertyRepository struct {
	db *PostgresDB
}

// NewPropertyRepository creates a new property repository
func NewPropertyRepository(db *PostgresDB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

// GetProperty retrieves a property by its ledger-assigned id. Returns
// ErrNotFound when the property has not been projected.
func (r *PropertyRepository) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	query := `
		SELECT id, name, location, total_shares, price_per_share,
		       total_deposited, last_event_block, created_at, updated_at
		FROM properties
		WHERE id = $1
	`

	var p models.Property
	err := r.db.Querier(ctx).QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Location,
		&p.TotalShares,
		&p.PricePerShare,
		&p.TotalDeposited,
		&p.LastEventBlock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: property %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get property %d: %w", id, err)
	}

	return &p, nil
}

// CreateProperty inserts a property row. A conflicting id is overwritten so
// that reprocessing after a rewind converges on the latest event's content.
func (r *PropertyRepository) CreateProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (
			id, name, location, total_shares, price_per_share,
			total_deposited, last_event_block, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			total_shares = EXCLUDED.total_shares,
			price_per_share = EXCLUDED.price_per_share,
			last_event_block = GREATEST(properties.last_event_block, EXCLUDED.last_event_block),
			updated_at = NOW()
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		p.ID,
		p.Name,
		p.Location,
		p.TotalShares,
		p.PricePerShare,
		p.TotalDeposited,
		p.LastEventBlock,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create property %d: %w", p.ID, err)
	}

	return nil
}

// AddDeposit increments the property's running deposit total and stamps the
// touching block. Returns ErrNotFound when the property does not exist.
func (r *PropertyRepository) AddDeposit(ctx context.Context, id int64, net int64, block uint64) error {
	query := `
		UPDATE properties
		SET total_deposited = total_deposited + $2,
		    last_event_block = GREATEST(last_event_block, $3),
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, id, net, block)
	if err != nil {
		return fmt.Errorf("failed to add deposit to property %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: property %d", ErrNotFound, id)
	}

	return nil
}

// ListProperties returns projected properties ordered by id.
func (r *PropertyRepository) ListProperties(ctx context.Context, limit, offset int) ([]*models.Property, error) {
	query := `
		SELECT id, name, location, total_shares, price_per_share,
		       total_deposited, last_event_block, created_at, updated_at
		FROM properties
		ORDER BY id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Location,
			&p.TotalShares,
			&p.PricePerShare,
			&p.TotalDeposited,
			&p.LastEventBlock,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		properties = append(properties, &p)
	}

	return properties, rows.Err()
}
