// Package projector applies decoded ledger events to the projected
// aggregates and appends one immutable audit record per applied event.
package projector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/propshare/share-indexer/internal/decoder"
	"github.com/propshare/share-indexer/internal/guard"
	"github.com/propshare/share-indexer/internal/logging"
	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/storage"
	"github.com/propshare/share-indexer/internal/types"
)

// ErrMissingDependency marks an event that references an aggregate the
// projection has not seen yet, typically because a backfill range is still
// incomplete. The event is skippable and safe to replay later.
var ErrMissingDependency = errors.New("event references unknown aggregate")

// PropertyStore is the property aggregate write/read surface the projector
// needs.
type PropertyStore interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	CreateProperty(ctx context.Context, p *models.Property) error
	// AddDeposit increments totalDeposited by net and stamps the touching
	// block. Returns storage.ErrNotFound when the property does not exist.
	AddDeposit(ctx context.Context, id int64, net int64, block uint64) error
}

// HolderStore is the holder aggregate write/read surface. AdjustBalance and
// AddClaimed create the (property, address) row lazily on first touch.
type HolderStore interface {
	GetHolder(ctx context.Context, propertyID int64, address string) (*models.Holder, error)
	AdjustBalance(ctx context.Context, propertyID int64, address string, delta int64, block uint64) error
	AddClaimed(ctx context.Context, propertyID int64, address string, amount int64, block uint64) error
}

// ListingStore is the listing aggregate write/read surface. CloseListing
// must only succeed while the listing is active and returns
// storage.ErrIllegalTransition otherwise, storage.ErrNotFound when the
// listing is unknown.
type ListingStore interface {
	GetListing(ctx context.Context, id int64) (*models.Listing, error)
	CreateListing(ctx context.Context, l *models.Listing) error
	CloseListing(ctx context.Context, id int64, state types.ListingState, buyer *string, at time.Time, block uint64) error
}

// TxRunner runs fn inside one atomic storage scope. Writes made through
// repositories backed by the same store, using the context passed to fn,
// commit together when fn returns nil and roll back together otherwise.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RecordStore appends immutable audit records. Records are never updated or
// deleted. Appends ride inside the event's retry cycle rather than its
// transaction; the replacing table engine collapses the rare duplicate left
// by a crash between an append and the commit.
type RecordStore interface {
	AppendTransfer(ctx context.Context, r *models.TransferRecord) error
	AppendDeposit(ctx context.Context, r *models.DepositRecord) error
	AppendClaim(ctx context.Context, r *models.ClaimRecord) error
}

// Projector applies one decoded event at a time. Callers must feed it
// events in ascending (blockNumber, txIndex, logIndex, itemIndex) order;
// the projector adds idempotency and per-aggregate-key serialization on
// top of that order.
type Projector struct {
	tx         TxRunner
	properties PropertyStore
	holders    HolderStore
	listings   ListingStore
	records    RecordStore
	guard      guard.Guard
	locks      *keyLock
	logger     *logging.Logger
}

// New creates a projector over the given transaction runner, stores and
// guard.
func New(
	tx TxRunner,
	properties PropertyStore,
	holders HolderStore,
	listings ListingStore,
	records RecordStore,
	g guard.Guard,
	logger *logging.Logger,
) *Projector {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Projector{
		tx:         tx,
		properties: properties,
		holders:    holders,
		listings:   listings,
		records:    records,
		guard:      g,
		locks:      newKeyLock(),
		logger:     logger,
	}
}

// Apply runs the matching handler under the aggregate's key lock, inside
// one storage transaction with the guard claim: the claim and every
// aggregate write commit together, and a handler failure rolls them all
// back so the event stays claimable for a later replay pass. A duplicate
// key is a silent no-op.
func (p *Projector) Apply(ctx context.Context, ev decoder.Event) error {
	meta := ev.EventMeta()
	key := meta.Key()

	unlock := p.locks.Lock(aggregateKey(ev))
	defer unlock()

	var duplicate bool
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		claimed, err := p.guard.TryClaim(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to claim %s: %w", key, err)
		}
		if !claimed {
			duplicate = true
			return nil
		}
		return p.apply(ctx, ev)
	})
	if err != nil {
		// The rollback discarded a transactional claim; guards that keep
		// claims outside the transaction need the explicit release.
		if relErr := p.guard.Release(ctx, key); relErr != nil {
			p.logger.WithError(relErr).Errorf("Failed to release claim %s after handler error", key)
		}
		return err
	}
	if duplicate {
		p.logger.WithFields(map[string]interface{}{
			"key":   key.String(),
			"block": meta.BlockNumber,
		}).Debug("Skipping already-applied event")
	}
	return nil
}

func (p *Projector) apply(ctx context.Context, ev decoder.Event) error {
	switch e := ev.(type) {
	case *decoder.PropertyCreated:
		return p.applyPropertyCreated(ctx, e)
	case *decoder.SharesTransferred:
		return p.applySharesTransferred(ctx, e)
	case *decoder.RentDeposited:
		return p.applyRentDeposited(ctx, e)
	case *decoder.RewardClaimed:
		return p.applyRewardClaimed(ctx, e)
	case *decoder.ListingCreated:
		return p.applyListingCreated(ctx, e)
	case *decoder.ListingCancelled:
		return p.applyListingClosed(ctx, e.Meta, e.ListingID, types.ListingCancelled, nil)
	case *decoder.ListingPurchased:
		buyer := e.Buyer
		return p.applyListingClosed(ctx, e.Meta, e.ListingID, types.ListingPurchased, &buyer)
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

func (p *Projector) applyPropertyCreated(ctx context.Context, e *decoder.PropertyCreated) error {
	property := &models.Property{
		ID:             e.PropertyID,
		Name:           e.Name,
		Location:       e.Location,
		TotalShares:    e.TotalShares,
		PricePerShare:  e.PricePerShare,
		TotalDeposited: 0,
		LastEventBlock: e.BlockNumber,
		CreatedAt:      e.Timestamp,
	}
	if err := p.properties.CreateProperty(ctx, property); err != nil {
		return fmt.Errorf("failed to create property %d: %w", e.PropertyID, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"propertyId": e.PropertyID,
		"block":      e.BlockNumber,
	}).Info("Property created")
	return nil
}

func (p *Projector) applySharesTransferred(ctx context.Context, e *decoder.SharesTransferred) error {
	// Sentinel endpoints are mints and burns: there is no holder to
	// decrement on a mint, none to increment on a burn.
	if e.From != types.SentinelAddress {
		if err := p.holders.AdjustBalance(ctx, e.PropertyID, e.From, -e.Amount, e.BlockNumber); err != nil {
			return fmt.Errorf("failed to debit holder (%d, %s): %w", e.PropertyID, e.From, err)
		}
	}
	if e.To != types.SentinelAddress {
		if err := p.holders.AdjustBalance(ctx, e.PropertyID, e.To, e.Amount, e.BlockNumber); err != nil {
			return fmt.Errorf("failed to credit holder (%d, %s): %w", e.PropertyID, e.To, err)
		}
	}

	// The record keeps from/to as given, sentinel or not.
	record := &models.TransferRecord{
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
		ItemIndex:   e.ItemIndex,
		PropertyID:  e.PropertyID,
		From:        e.From,
		To:          e.To,
		Amount:      e.Amount,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
	}
	if err := p.records.AppendTransfer(ctx, record); err != nil {
		return fmt.Errorf("failed to append transfer record: %w", err)
	}
	return nil
}

func (p *Projector) applyRentDeposited(ctx context.Context, e *decoder.RentDeposited) error {
	if err := p.properties.AddDeposit(ctx, e.PropertyID, e.NetAmount, e.BlockNumber); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: deposit for property %d", ErrMissingDependency, e.PropertyID)
		}
		return fmt.Errorf("failed to apply deposit to property %d: %w", e.PropertyID, err)
	}

	record := &models.DepositRecord{
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
		PropertyID:  e.PropertyID,
		GrossAmount: e.GrossAmount,
		FeeAmount:   e.FeeAmount,
		NetAmount:   e.NetAmount,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
	}
	if err := p.records.AppendDeposit(ctx, record); err != nil {
		return fmt.Errorf("failed to append deposit record: %w", err)
	}
	return nil
}

func (p *Projector) applyRewardClaimed(ctx context.Context, e *decoder.RewardClaimed) error {
	if err := p.holders.AddClaimed(ctx, e.PropertyID, e.Holder, e.Amount, e.BlockNumber); err != nil {
		return fmt.Errorf("failed to apply claim for holder (%d, %s): %w", e.PropertyID, e.Holder, err)
	}

	record := &models.ClaimRecord{
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
		PropertyID:  e.PropertyID,
		Holder:      e.Holder,
		Amount:      e.Amount,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
	}
	if err := p.records.AppendClaim(ctx, record); err != nil {
		return fmt.Errorf("failed to append claim record: %w", err)
	}
	return nil
}

func (p *Projector) applyListingCreated(ctx context.Context, e *decoder.ListingCreated) error {
	listing := &models.Listing{
		ID:             e.ListingID,
		PropertyID:     e.PropertyID,
		Seller:         e.Seller,
		Amount:         e.Amount,
		PricePerShare:  e.PricePerShare,
		State:          types.ListingActive,
		CreatedAt:      e.Timestamp,
		LastEventBlock: e.BlockNumber,
	}
	if err := p.listings.CreateListing(ctx, listing); err != nil {
		return fmt.Errorf("failed to create listing %d: %w", e.ListingID, err)
	}
	return nil
}

func (p *Projector) applyListingClosed(ctx context.Context, meta decoder.Meta, listingID int64, state types.ListingState, buyer *string) error {
	err := p.listings.CloseListing(ctx, listingID, state, buyer, meta.Timestamp, meta.BlockNumber)
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s for listing %d", ErrMissingDependency, state, listingID)
	}
	if errors.Is(err, storage.ErrIllegalTransition) {
		// A terminal listing never transitions again. The stray event is
		// consumed, logged, and ignored.
		p.logger.WithFields(map[string]interface{}{
			"listingId": listingID,
			"state":     string(state),
			"tx":        meta.TxHash,
		}).Warn("Ignoring transition on terminal listing")
		return nil
	}
	return fmt.Errorf("failed to close listing %d: %w", listingID, err)
}

// aggregateKey maps an event to the aggregate whose writers it must
// serialize with. Holder mutations lock their property so two transfers
// inside one property never race.
func aggregateKey(ev decoder.Event) string {
	switch e := ev.(type) {
	case *decoder.PropertyCreated:
		return fmt.Sprintf("property:%d", e.PropertyID)
	case *decoder.SharesTransferred:
		return fmt.Sprintf("property:%d", e.PropertyID)
	case *decoder.RentDeposited:
		return fmt.Sprintf("property:%d", e.PropertyID)
	case *decoder.RewardClaimed:
		return fmt.Sprintf("property:%d", e.PropertyID)
	case *decoder.ListingCreated:
		return fmt.Sprintf("listing:%d", e.ListingID)
	case *decoder.ListingCancelled:
		return fmt.Sprintf("listing:%d", e.ListingID)
	case *decoder.ListingPurchased:
		return fmt.Sprintf("listing:%d", e.ListingID)
	default:
		return "unknown"
	}
}
