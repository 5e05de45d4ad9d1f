package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/types"
)

// MemStore is an in-memory implementation of every store the projector,
// replay coordinator and drift reconciler need. It backs tests and
// single-process development runs without external databases.
type MemStore struct {
	txMu        sync.Mutex
	mu          sync.Mutex
	properties  map[int64]*models.Property
	holders     map[string]*models.Holder
	listings    map[int64]*models.Listing
	checkpoints map[types.SourceID]*models.Checkpoint
	skipped     map[string]*models.SkippedEvent
	corrections []*models.DriftCorrection

	transfers []*models.TransferRecord
	deposits  []*models.DepositRecord
	claims    []*models.ClaimRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		properties:  make(map[int64]*models.Property),
		holders:     make(map[string]*models.Holder),
		listings:    make(map[int64]*models.Listing),
		checkpoints: make(map[types.SourceID]*models.Checkpoint),
		skipped:     make(map[string]*models.SkippedEvent),
	}
}

func holderKey(propertyID int64, address string) string {
	return fmt.Sprintf("%d:%s", propertyID, strings.ToLower(address))
}

// RunInTx runs fn with rollback-on-error semantics: the whole store is
// snapshotted up front and restored when fn fails, mirroring the Postgres
// per-event transaction. Transactions are serialized against each other;
// writes made outside RunInTx while one is open would be lost on a
// rollback, which in-process callers avoid by routing every event write
// through the projector.
func (s *MemStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	properties  map[int64]*models.Property
	holders     map[string]*models.Holder
	listings    map[int64]*models.Listing
	checkpoints map[types.SourceID]*models.Checkpoint
	skipped     map[string]*models.SkippedEvent
	corrections []*models.DriftCorrection
	transfers   []*models.TransferRecord
	deposits    []*models.DepositRecord
	claims      []*models.ClaimRecord
}

func copyMap[K comparable, V any](src map[K]*V) map[K]*V {
	dst := make(map[K]*V, len(src))
	for k, v := range src {
		cp := *v
		dst[k] = &cp
	}
	return dst
}

func (s *MemStore) snapshot() *memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &memSnapshot{
		properties:  copyMap(s.properties),
		holders:     copyMap(s.holders),
		listings:    copyMap(s.listings),
		checkpoints: copyMap(s.checkpoints),
		skipped:     copyMap(s.skipped),
		corrections: append([]*models.DriftCorrection(nil), s.corrections...),
		transfers:   append([]*models.TransferRecord(nil), s.transfers...),
		deposits:    append([]*models.DepositRecord(nil), s.deposits...),
		claims:      append([]*models.ClaimRecord(nil), s.claims...),
	}
}

func (s *MemStore) restore(snap *memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.properties = snap.properties
	s.holders = snap.holders
	s.listings = snap.listings
	s.checkpoints = snap.checkpoints
	s.skipped = snap.skipped
	s.corrections = snap.corrections
	s.transfers = snap.transfers
	s.deposits = snap.deposits
	s.claims = snap.claims
}

// GetProperty returns a copy of the property or ErrNotFound.
func (s *MemStore) GetProperty(_ context.Context, id int64) (*models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[id]
	if !ok {
		return nil, fmt.Errorf("%w: property %d", ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// CreateProperty stores the property, overwriting descriptive fields on a
// conflicting id the way the SQL upsert does.
func (s *MemStore) CreateProperty(_ context.Context, p *models.Property) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	if existing, ok := s.properties[p.ID]; ok {
		cp.TotalDeposited = existing.TotalDeposited
		if existing.LastEventBlock > cp.LastEventBlock {
			cp.LastEventBlock = existing.LastEventBlock
		}
	}
	cp.UpdatedAt = time.Now().UTC()
	s.properties[p.ID] = &cp
	return nil
}

// AddDeposit increments the property's deposit total or returns ErrNotFound.
func (s *MemStore) AddDeposit(_ context.Context, id int64, net int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.properties[id]
	if !ok {
		return fmt.Errorf("%w: property %d", ErrNotFound, id)
	}
	p.TotalDeposited += net
	if block > p.LastEventBlock {
		p.LastEventBlock = block
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ListProperties returns projected properties ordered by id.
func (s *MemStore) ListProperties(_ context.Context, limit, offset int) ([]*models.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.Property, 0, len(s.properties))
	for _, p := range s.properties {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	return page(all, limit, offset), nil
}

// GetHolder returns a copy of the holder position or ErrNotFound.
func (s *MemStore) GetHolder(_ context.Context, propertyID int64, address string) (*models.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holders[holderKey(propertyID, address)]
	if !ok {
		return nil, fmt.Errorf("%w: holder (%d, %s)", ErrNotFound, propertyID, address)
	}
	cp := *h
	return &cp, nil
}

func (s *MemStore) holder(propertyID int64, address string) *models.Holder {
	key := holderKey(propertyID, address)
	h, ok := s.holders[key]
	if !ok {
		h = &models.Holder{PropertyID: propertyID, Address: strings.ToLower(address)}
		s.holders[key] = h
	}
	return h
}

// AdjustBalance applies a signed delta, creating the row on first touch.
func (s *MemStore) AdjustBalance(_ context.Context, propertyID int64, address string, delta int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.holder(propertyID, address)
	h.Balance += delta
	if block > h.LastEventBlock {
		h.LastEventBlock = block
	}
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// AddClaimed adds to the cumulative claimed total, creating the row on
// first touch.
func (s *MemStore) AddClaimed(_ context.Context, propertyID int64, address string, amount int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.holder(propertyID, address)
	h.TotalClaimed += amount
	if block > h.LastEventBlock {
		h.LastEventBlock = block
	}
	h.UpdatedAt = time.Now().UTC()
	return nil
}

// SampleHolders returns up to limit holders in key order. Deterministic
// order keeps tests stable; randomness only matters at production scale.
func (s *MemStore) SampleHolders(_ context.Context, limit int) ([]*models.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.holders))
	for k := range s.holders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var holders []*models.Holder
	for _, k := range keys {
		if len(holders) == limit {
			break
		}
		cp := *s.holders[k]
		holders = append(holders, &cp)
	}
	return holders, nil
}

// ListHolders returns the holders of one property ordered by balance.
func (s *MemStore) ListHolders(_ context.Context, propertyID int64, limit, offset int) ([]*models.Holder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Holder
	for _, h := range s.holders {
		if h.PropertyID != propertyID {
			continue
		}
		cp := *h
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Balance != all[j].Balance {
			return all[i].Balance > all[j].Balance
		}
		return all[i].Address < all[j].Address
	})

	return page(all, limit, offset), nil
}

// CorrectBalance overwrites the balance when no event newer than readBlock
// has touched the row. Reports whether the correction was applied.
func (s *MemStore) CorrectBalance(_ context.Context, propertyID int64, address string, balance int64, readBlock uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holders[holderKey(propertyID, address)]
	if !ok || h.LastEventBlock > readBlock {
		return false, nil
	}
	h.Balance = balance
	h.UpdatedAt = time.Now().UTC()
	return true, nil
}

// GetListing returns a copy of the listing or ErrNotFound.
func (s *MemStore) GetListing(_ context.Context, id int64) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
	}
	cp := *l
	return &cp, nil
}

// CreateListing stores the listing in the active state.
func (s *MemStore) CreateListing(_ context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *l
	cp.Seller = strings.ToLower(cp.Seller)
	if existing, ok := s.listings[l.ID]; ok && existing.State.Terminal() {
		// Terminal listings keep their state; only descriptive fields follow
		// the newer event, matching the SQL upsert.
		cp.State = existing.State
		cp.Buyer = existing.Buyer
		cp.TerminalAt = existing.TerminalAt
	}
	s.listings[l.ID] = &cp
	return nil
}

// CloseListing moves an active listing to a terminal state, or returns
// ErrIllegalTransition / ErrNotFound.
func (s *MemStore) CloseListing(_ context.Context, id int64, state types.ListingState, buyer *string, at time.Time, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("%w: listing %d", ErrNotFound, id)
	}
	if l.State != types.ListingActive {
		return fmt.Errorf("%w: listing %d is %s", ErrIllegalTransition, id, l.State)
	}

	l.State = state
	if buyer != nil {
		lowered := strings.ToLower(*buyer)
		l.Buyer = &lowered
	}
	t := at
	l.TerminalAt = &t
	if block > l.LastEventBlock {
		l.LastEventBlock = block
	}
	return nil
}

// ListListings returns listings filtered by state, newest first. An empty
// state returns all listings.
func (s *MemStore) ListListings(_ context.Context, state types.ListingState, limit, offset int) ([]*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Listing
	for _, l := range s.listings {
		if state != "" && l.State != state {
			continue
		}
		cp := *l
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	return page(all, limit, offset), nil
}

// page applies limit/offset to a sorted slice.
func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// AppendTransfer appends one transfer record.
func (s *MemStore) AppendTransfer(_ context.Context, r *models.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.transfers = append(s.transfers, &cp)
	return nil
}

// AppendDeposit appends one deposit record.
func (s *MemStore) AppendDeposit(_ context.Context, r *models.DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.deposits = append(s.deposits, &cp)
	return nil
}

// AppendClaim appends one claim record.
func (s *MemStore) AppendClaim(_ context.Context, r *models.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.claims = append(s.claims, &cp)
	return nil
}

// Transfers returns all appended transfer records in append order.
func (s *MemStore) Transfers() []*models.TransferRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.TransferRecord(nil), s.transfers...)
}

// Deposits returns all appended deposit records in append order.
func (s *MemStore) Deposits() []*models.DepositRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.DepositRecord(nil), s.deposits...)
}

// Claims returns all appended claim records in append order.
func (s *MemStore) Claims() []*models.ClaimRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ClaimRecord(nil), s.claims...)
}

// GetCheckpoint returns the source's checkpoint or ErrNotFound.
func (s *MemStore) GetCheckpoint(_ context.Context, source types.SourceID) (*models.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[source]
	if !ok {
		return nil, fmt.Errorf("%w: checkpoint for %s", ErrNotFound, source)
	}
	c := *cp
	return &c, nil
}

// SetCheckpoint writes the source's checkpoint, forward or backward.
func (s *MemStore) SetCheckpoint(_ context.Context, source types.SourceID, block uint64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[source] = &models.Checkpoint{
		Source:      source,
		BlockNumber: block,
		BlockHash:   hash,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

// RecordSkipped stores one skipped event keyed by its event key.
func (s *MemStore) RecordSkipped(_ context.Context, ev *models.SkippedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s:%d:%d", ev.TxHash, ev.LogIndex, ev.ItemIndex)
	cp := *ev
	s.skipped[key] = &cp
	return nil
}

// Skipped returns all recorded skipped events in block order.
func (s *MemStore) Skipped() []*models.SkippedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.SkippedEvent, 0, len(s.skipped))
	for _, ev := range s.skipped {
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		if out[i].TxHash != out[j].TxHash {
			return out[i].TxHash < out[j].TxHash
		}
		if out[i].LogIndex != out[j].LogIndex {
			return out[i].LogIndex < out[j].LogIndex
		}
		return out[i].ItemIndex < out[j].ItemIndex
	})
	return out
}

// RecordCorrection stores one drift correction record.
func (s *MemStore) RecordCorrection(_ context.Context, c *models.DriftCorrection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.corrections = append(s.corrections, &cp)
	return nil
}

// Corrections returns all recorded drift corrections in append order.
func (s *MemStore) Corrections() []*models.DriftCorrection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.DriftCorrection(nil), s.corrections...)
}
