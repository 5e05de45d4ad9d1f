package decoder

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/propshare/share-indexer/internal/types"
)

var (
	shareTokenAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	marketplaceAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	operatorAddr    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	aliceAddr       = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bobAddr         = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder(shareTokenAddr, marketplaceAddr)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	return d
}

func packEventData(t *testing.T, d *Decoder, contract types.SourceID, event string, args ...interface{}) []byte {
	t.Helper()
	a := d.shareABI
	if contract == types.SourceMarketplace {
		a = d.marketABI
	}
	data, err := a.Events[event].Inputs.NonIndexed().Pack(args...)
	if err != nil {
		t.Fatalf("failed to pack %s data: %v", event, err)
	}
	return data
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func transferSingleLog(t *testing.T, d *Decoder, from, to common.Address, propertyID, amount int64) ethtypes.Log {
	t.Helper()
	return ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			d.shareABI.Events["TransferSingle"].ID,
			addressTopic(operatorAddr),
			addressTopic(from),
			addressTopic(to),
		},
		Data:        packEventData(t, d, types.SourceShareToken, "TransferSingle", big.NewInt(propertyID), big.NewInt(amount)),
		BlockNumber: 100,
		TxHash:      common.HexToHash("0x01"),
		TxIndex:     0,
		Index:       3,
	}
}

func TestDecodeTransferSingle(t *testing.T) {
	d := newTestDecoder(t)
	blockTime := time.Unix(1700000000, 0).UTC()

	events, err := d.Decode(transferSingleLog(t, d, aliceAddr, bobAddr, 7, 40), blockTime)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Decode() returned %d events, want 1", len(events))
	}

	ev, ok := events[0].(*SharesTransferred)
	if !ok {
		t.Fatalf("Decode() returned %T, want *SharesTransferred", events[0])
	}
	if ev.PropertyID != 7 {
		t.Errorf("PropertyID = %d, want 7", ev.PropertyID)
	}
	if ev.Amount != 40 {
		t.Errorf("Amount = %d, want 40", ev.Amount)
	}
	if ev.From != "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Errorf("From = %s", ev.From)
	}
	if ev.To != "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Errorf("To = %s", ev.To)
	}
	if ev.Source != types.SourceShareToken {
		t.Errorf("Source = %s, want %s", ev.Source, types.SourceShareToken)
	}
	if !ev.Timestamp.Equal(blockTime) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, blockTime)
	}
	if got := ev.EventMeta().Key().String(); got != ev.TxHash+":3:0" {
		t.Errorf("Key() = %s", got)
	}
}

func TestDecodeTransferBatchExplodes(t *testing.T) {
	d := newTestDecoder(t)

	lg := ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			d.shareABI.Events["TransferBatch"].ID,
			addressTopic(operatorAddr),
			addressTopic(aliceAddr),
			addressTopic(bobAddr),
		},
		Data: packEventData(t, d, types.SourceShareToken, "TransferBatch",
			[]*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)},
			[]*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30)},
		),
		BlockNumber: 101,
		TxHash:      common.HexToHash("0x02"),
		Index:       5,
	}

	events, err := d.Decode(lg, time.Now())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Decode() returned %d events, want 3", len(events))
	}

	for i, ev := range events {
		tr := ev.(*SharesTransferred)
		if tr.PropertyID != int64(i+1) {
			t.Errorf("item %d: PropertyID = %d, want %d", i, tr.PropertyID, i+1)
		}
		if tr.Amount != int64((i+1)*10) {
			t.Errorf("item %d: Amount = %d, want %d", i, tr.Amount, (i+1)*10)
		}
		if tr.ItemIndex != i {
			t.Errorf("item %d: ItemIndex = %d", i, tr.ItemIndex)
		}
	}

	// Item keys must differ so the idempotency guard sees three claims.
	seen := make(map[string]bool)
	for _, ev := range events {
		key := ev.EventMeta().Key().String()
		if seen[key] {
			t.Errorf("duplicate event key %s", key)
		}
		seen[key] = true
	}
}

func TestDecodeTransferBatchLengthMismatch(t *testing.T) {
	d := newTestDecoder(t)

	lg := ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			d.shareABI.Events["TransferBatch"].ID,
			addressTopic(operatorAddr),
			addressTopic(aliceAddr),
			addressTopic(bobAddr),
		},
		Data: packEventData(t, d, types.SourceShareToken, "TransferBatch",
			[]*big.Int{big.NewInt(1), big.NewInt(2)},
			[]*big.Int{big.NewInt(10)},
		),
		BlockNumber: 102,
		TxHash:      common.HexToHash("0x03"),
	}

	events, err := d.Decode(lg, time.Now())
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("Decode() error = %v, want ErrMalformedEvent", err)
	}
	if len(events) != 0 {
		t.Errorf("Decode() returned %d events on mismatch, want 0", len(events))
	}
}

func TestDecodeRejectsOutOfRangeAmount(t *testing.T) {
	d := newTestDecoder(t)

	huge := new(big.Int).Lsh(big.NewInt(1), 64) // exceeds int64
	lg := ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			d.shareABI.Events["TransferSingle"].ID,
			addressTopic(operatorAddr),
			addressTopic(aliceAddr),
			addressTopic(bobAddr),
		},
		Data:        packEventData(t, d, types.SourceShareToken, "TransferSingle", big.NewInt(1), huge),
		BlockNumber: 103,
		TxHash:      common.HexToHash("0x04"),
	}

	if _, err := d.Decode(lg, time.Now()); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("Decode() error = %v, want ErrMalformedEvent", err)
	}
}

func TestDecodeIgnoresUnknownContractAndSignature(t *testing.T) {
	d := newTestDecoder(t)

	unknownContract := transferSingleLog(t, d, aliceAddr, bobAddr, 1, 1)
	unknownContract.Address = common.HexToAddress("0x9999999999999999999999999999999999999999")

	unknownSig := transferSingleLog(t, d, aliceAddr, bobAddr, 1, 1)
	unknownSig.Topics[0] = common.HexToHash("0xdead")

	removed := transferSingleLog(t, d, aliceAddr, bobAddr, 1, 1)
	removed.Removed = true

	for name, lg := range map[string]ethtypes.Log{
		"unknown contract":  unknownContract,
		"unknown signature": unknownSig,
		"removed log":       removed,
	} {
		events, err := d.Decode(lg, time.Now())
		if err != nil {
			t.Errorf("%s: Decode() error = %v, want nil", name, err)
		}
		if len(events) != 0 {
			t.Errorf("%s: Decode() returned %d events, want 0", name, len(events))
		}
	}
}

func TestDecodePropertyCreated(t *testing.T) {
	d := newTestDecoder(t)

	lg := ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			d.shareABI.Events["PropertyCreated"].ID,
			common.BigToHash(big.NewInt(42)),
		},
		Data: packEventData(t, d, types.SourceShareToken, "PropertyCreated",
			"Harbor View", "Lisbon", big.NewInt(1000), big.NewInt(5000)),
		BlockNumber: 104,
		TxHash:      common.HexToHash("0x05"),
	}

	events, err := d.Decode(lg, time.Now())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	ev := events[0].(*PropertyCreated)
	if ev.PropertyID != 42 || ev.Name != "Harbor View" || ev.Location != "Lisbon" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.TotalShares != 1000 || ev.PricePerShare != 5000 {
		t.Errorf("TotalShares = %d, PricePerShare = %d", ev.TotalShares, ev.PricePerShare)
	}
}

func TestDecodeMarketplaceEvents(t *testing.T) {
	d := newTestDecoder(t)

	created := ethtypes.Log{
		Address: marketplaceAddr,
		Topics: []common.Hash{
			d.marketABI.Events["ListingCreated"].ID,
			common.BigToHash(big.NewInt(9)),
			common.BigToHash(big.NewInt(42)),
			addressTopic(aliceAddr),
		},
		Data:        packEventData(t, d, types.SourceMarketplace, "ListingCreated", big.NewInt(25), big.NewInt(5500)),
		BlockNumber: 105,
		TxHash:      common.HexToHash("0x06"),
	}

	events, err := d.Decode(created, time.Now())
	if err != nil {
		t.Fatalf("Decode(ListingCreated) error = %v", err)
	}
	lc := events[0].(*ListingCreated)
	if lc.ListingID != 9 || lc.PropertyID != 42 || lc.Amount != 25 || lc.PricePerShare != 5500 {
		t.Errorf("unexpected ListingCreated %+v", lc)
	}
	if lc.Source != types.SourceMarketplace {
		t.Errorf("Source = %s", lc.Source)
	}

	purchased := ethtypes.Log{
		Address: marketplaceAddr,
		Topics: []common.Hash{
			d.marketABI.Events["ListingPurchased"].ID,
			common.BigToHash(big.NewInt(9)),
			addressTopic(bobAddr),
		},
		BlockNumber: 106,
		TxHash:      common.HexToHash("0x07"),
	}

	events, err = d.Decode(purchased, time.Now())
	if err != nil {
		t.Fatalf("Decode(ListingPurchased) error = %v", err)
	}
	lp := events[0].(*ListingPurchased)
	if lp.ListingID != 9 || lp.Buyer != "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Errorf("unexpected ListingPurchased %+v", lp)
	}

	cancelled := ethtypes.Log{
		Address: marketplaceAddr,
		Topics: []common.Hash{
			d.marketABI.Events["ListingCancelled"].ID,
			common.BigToHash(big.NewInt(9)),
		},
		BlockNumber: 107,
		TxHash:      common.HexToHash("0x08"),
	}

	events, err = d.Decode(cancelled, time.Now())
	if err != nil {
		t.Fatalf("Decode(ListingCancelled) error = %v", err)
	}
	if events[0].(*ListingCancelled).ListingID != 9 {
		t.Errorf("unexpected ListingCancelled %+v", events[0])
	}
}

func TestTopicsCoverAllEvents(t *testing.T) {
	d := newTestDecoder(t)
	if got := len(d.Topics()); got != 8 {
		t.Errorf("Topics() returned %d hashes, want 8", got)
	}
}
