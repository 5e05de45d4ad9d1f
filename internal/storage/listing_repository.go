package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/types"
)

// ListingRepository handles marketplace listing persistence. The state
// machine is enforced in SQL: a close only lands while the row is still
// active, so terminal listings are immutable no matter what arrives later.
type ListingRepository struct {
	db *PostgresDB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *PostgresDB) *ListingRepository {
	return &ListingRepository{db: db}
}

// GetListing retrieves a listing by id. Returns ErrNotFound when the
// listing has not been projected.
func (r *ListingRepository) GetListing(ctx context.Context, id int64) (*models.Listing, error) {
	query := `
		SELECT id, property_id, seller, amount, price_per_share, state,
		       buyer, created_at, terminal_at, last_event_block
		FROM listings
		WHERE id = $1
	`

	var l models.Listing
	var state string
	err := r.db.Querier(ctx).QueryRow(ctx, query, id).Scan(
		&l.ID,
		&l.PropertyID,
		&l.Seller,
		&l.Amount,
		&l.PricePerShare,
		&state,
		&l.Buyer,
		&l.CreatedAt,
		&l.TerminalAt,
		&l.LastEventBlock,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get listing %d: %w", id, err)
	}
	l.State = types.ListingState(state)

	return &l, nil
}

// CreateListing inserts a listing row in the active state. A conflicting id
// is overwritten so reprocessing after a rewind converges on the latest
// event's content.
func (r *ListingRepository) CreateListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (
			id, property_id, seller, amount, price_per_share, state,
			buyer, created_at, terminal_at, last_event_block
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, NULL, $8)
		ON CONFLICT (id) DO UPDATE SET
			property_id = EXCLUDED.property_id,
			seller = EXCLUDED.seller,
			amount = EXCLUDED.amount,
			price_per_share = EXCLUDED.price_per_share,
			last_event_block = GREATEST(listings.last_event_block, EXCLUDED.last_event_block)
	`

	_, err := r.db.Querier(ctx).Exec(ctx, query,
		l.ID,
		l.PropertyID,
		strings.ToLower(l.Seller),
		l.Amount,
		l.PricePerShare,
		string(l.State),
		l.CreatedAt,
		l.LastEventBlock,
	)
	if err != nil {
		return fmt.Errorf("failed to create listing %d: %w", l.ID, err)
	}

	return nil
}

// CloseListing moves an active listing into a terminal state. Returns
// ErrIllegalTransition when the listing is already terminal and ErrNotFound
// when it does not exist.
func (r *ListingRepository) CloseListing(ctx context.Context, id int64, state types.ListingState, buyer *string, at time.Time, block uint64) error {
	if buyer != nil {
		lowered := strings.ToLower(*buyer)
		buyer = &lowered
	}

	query := `
		UPDATE listings
		SET state = $2,
		    buyer = $3,
		    terminal_at = $4,
		    last_event_block = GREATEST(last_event_block, $5)
		WHERE id = $1 AND state = 'active'
	`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, id, string(state), buyer, at, block)
	if err != nil {
		return fmt.Errorf("failed to close listing %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: either the listing is unknown or already terminal.
	var existing string
	err = r.db.Querier(ctx).QueryRow(ctx, `SELECT state FROM listings WHERE id = $1`, id).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: listing %d", ErrNotFound, id)
		}
		return fmt.Errorf("failed to inspect listing %d: %w", id, err)
	}

	return fmt.Errorf("%w: listing %d is %s", ErrIllegalTransition, id, existing)
}

// ListListings returns listings filtered by state, newest first. An empty
// state returns all listings.
func (r *ListingRepository) ListListings(ctx context.Context, state types.ListingState, limit, offset int) ([]*models.Listing, error) {
	query := `
		SELECT id, property_id, seller, amount, price_per_share, state,
		       buyer, created_at, terminal_at, last_event_block
		FROM listings
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Querier(ctx).Query(ctx, query, string(state), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		var l models.Listing
		var st string
		if err := rows.Scan(
			&l.ID,
			&l.PropertyID,
			&l.Seller,
			&l.Amount,
			&l.PricePerShare,
			&st,
			&l.Buyer,
			&l.CreatedAt,
			&l.TerminalAt,
			&l.LastEventBlock,
		); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		l.State = types.ListingState(st)
		listings = append(listings, &l)
	}

	return listings, rows.Err()
}
