// Package decoder turns raw ledger log records into typed domain events.
package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/propshare/share-indexer/internal/types"
)

// ErrMalformedEvent marks a log that matched a known signature but failed
// to decode. The caller logs and skips it; one bad record never halts a
// range.
var ErrMalformedEvent = errors.New("malformed event payload")

// Decoder matches raw logs against the known (contract, event-signature)
// pairs and decodes them. Logs from unknown contracts or with unknown
// signatures are ignored without error.
type Decoder struct {
	shareToken  common.Address
	marketplace common.Address
	shareABI    abi.ABI
	marketABI   abi.ABI
}

// NewDecoder creates a decoder bound to the two contract addresses.
func NewDecoder(shareToken, marketplace common.Address) (*Decoder, error) {
	shareABI, err := ShareTokenABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse share token ABI: %w", err)
	}
	marketABI, err := MarketplaceABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}

	return &Decoder{
		shareToken:  shareToken,
		marketplace: marketplace,
		shareABI:    shareABI,
		marketABI:   marketABI,
	}, nil
}

// Topics returns the event signature hashes the decoder recognizes, for use
// in log filter queries.
func (d *Decoder) Topics() []common.Hash {
	return []common.Hash{
		d.shareABI.Events["PropertyCreated"].ID,
		d.shareABI.Events["TransferSingle"].ID,
		d.shareABI.Events["TransferBatch"].ID,
		d.shareABI.Events["RentDeposited"].ID,
		d.shareABI.Events["RewardClaimed"].ID,
		d.marketABI.Events["ListingCreated"].ID,
		d.marketABI.Events["ListingCancelled"].ID,
		d.marketABI.Events["ListingPurchased"].ID,
	}
}

// Addresses returns the contract addresses the decoder is bound to.
func (d *Decoder) Addresses() []common.Address {
	return []common.Address{d.shareToken, d.marketplace}
}

// AddressFor maps a source identifier to its contract address.
func (d *Decoder) AddressFor(source types.SourceID) (common.Address, bool) {
	switch source {
	case types.SourceShareToken:
		return d.shareToken, true
	case types.SourceMarketplace:
		return d.marketplace, true
	}
	return common.Address{}, false
}

// SourceFor maps a contract address to its source identifier. The second
// return is false for addresses the decoder does not watch.
func (d *Decoder) SourceFor(addr common.Address) (types.SourceID, bool) {
	switch addr {
	case d.shareToken:
		return types.SourceShareToken, true
	case d.marketplace:
		return types.SourceMarketplace, true
	}
	return "", false
}

// Decode decodes one raw log into zero or more typed events. A TransferBatch
// explodes into one SharesTransferred per array item; every other recognized
// signature yields exactly one event. blockTime is the timestamp of the
// log's block, resolved by the caller.
func (d *Decoder) Decode(lg ethtypes.Log, blockTime time.Time) ([]Event, error) {
	if lg.Removed || len(lg.Topics) == 0 {
		return nil, nil
	}

	source, ok := d.SourceFor(lg.Address)
	if !ok {
		return nil, nil
	}

	meta := Meta{
		Source:      source,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		TxIndex:     lg.TxIndex,
		LogIndex:    lg.Index,
		Timestamp:   blockTime,
	}

	switch source {
	case types.SourceShareToken:
		return d.decodeShareToken(lg, meta)
	case types.SourceMarketplace:
		return d.decodeMarketplace(lg, meta)
	}
	return nil, nil
}

func (d *Decoder) decodeShareToken(lg ethtypes.Log, meta Meta) ([]Event, error) {
	switch lg.Topics[0] {
	case d.shareABI.Events["PropertyCreated"].ID:
		return d.decodePropertyCreated(lg, meta)
	case d.shareABI.Events["TransferSingle"].ID:
		return d.decodeTransferSingle(lg, meta)
	case d.shareABI.Events["TransferBatch"].ID:
		return d.decodeTransferBatch(lg, meta)
	case d.shareABI.Events["RentDeposited"].ID:
		return d.decodeRentDeposited(lg, meta)
	case d.shareABI.Events["RewardClaimed"].ID:
		return d.decodeRewardClaimed(lg, meta)
	}
	return nil, nil
}

func (d *Decoder) decodeMarketplace(lg ethtypes.Log, meta Meta) ([]Event, error) {
	switch lg.Topics[0] {
	case d.marketABI.Events["ListingCreated"].ID:
		return d.decodeListingCreated(lg, meta)
	case d.marketABI.Events["ListingCancelled"].ID:
		return d.decodeListingCancelled(lg, meta)
	case d.marketABI.Events["ListingPurchased"].ID:
		return d.decodeListingPurchased(lg, meta)
	}
	return nil, nil
}

func (d *Decoder) decodePropertyCreated(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 2 {
		return nil, fmt.Errorf("%w: PropertyCreated expects 2 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	propertyID, err := topicInt64(lg.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("%w: propertyId: %v", ErrMalformedEvent, err)
	}

	values, err := d.shareABI.Unpack("PropertyCreated", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: PropertyCreated data: %v", ErrMalformedEvent, err)
	}
	name, ok1 := values[0].(string)
	location, ok2 := values[1].(string)
	totalShares, err1 := bigInt64(values[2])
	pricePerShare, err2 := bigInt64(values[3])
	if !ok1 || !ok2 || err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: PropertyCreated field types", ErrMalformedEvent)
	}

	return []Event{&PropertyCreated{
		Meta:          meta,
		PropertyID:    propertyID,
		Name:          name,
		Location:      location,
		TotalShares:   totalShares,
		PricePerShare: pricePerShare,
	}}, nil
}

func (d *Decoder) decodeTransferSingle(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 4 {
		return nil, fmt.Errorf("%w: TransferSingle expects 4 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	from := topicAddress(lg.Topics[2])
	to := topicAddress(lg.Topics[3])

	values, err := d.shareABI.Unpack("TransferSingle", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: TransferSingle data: %v", ErrMalformedEvent, err)
	}
	propertyID, err1 := bigInt64(values[0])
	amount, err2 := bigInt64(values[1])
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: TransferSingle amounts out of range", ErrMalformedEvent)
	}

	return []Event{&SharesTransferred{
		Meta:       meta,
		PropertyID: propertyID,
		From:       from,
		To:         to,
		Amount:     amount,
	}}, nil
}

// decodeTransferBatch explodes a batch into per-item events. The ids and
// values arrays must have equal length; a mismatch rejects the whole event
// so that no partial explosion ever reaches the projector.
func (d *Decoder) decodeTransferBatch(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 4 {
		return nil, fmt.Errorf("%w: TransferBatch expects 4 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	from := topicAddress(lg.Topics[2])
	to := topicAddress(lg.Topics[3])

	values, err := d.shareABI.Unpack("TransferBatch", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: TransferBatch data: %v", ErrMalformedEvent, err)
	}
	ids, ok1 := values[0].([]*big.Int)
	amounts, ok2 := values[1].([]*big.Int)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: TransferBatch array types", ErrMalformedEvent)
	}
	if len(ids) != len(amounts) {
		return nil, fmt.Errorf("%w: TransferBatch array length mismatch: ids=%d values=%d",
			ErrMalformedEvent, len(ids), len(amounts))
	}

	events := make([]Event, 0, len(ids))
	for i := range ids {
		propertyID, err1 := bigInt64(ids[i])
		amount, err2 := bigInt64(amounts[i])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: TransferBatch item %d out of range", ErrMalformedEvent, i)
		}
		itemMeta := meta
		itemMeta.ItemIndex = i
		events = append(events, &SharesTransferred{
			Meta:       itemMeta,
			PropertyID: propertyID,
			From:       from,
			To:         to,
			Amount:     amount,
		})
	}
	return events, nil
}

func (d *Decoder) decodeRentDeposited(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 2 {
		return nil, fmt.Errorf("%w: RentDeposited expects 2 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	propertyID, err := topicInt64(lg.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("%w: propertyId: %v", ErrMalformedEvent, err)
	}

	values, err := d.shareABI.Unpack("RentDeposited", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: RentDeposited data: %v", ErrMalformedEvent, err)
	}
	gross, err1 := bigInt64(values[0])
	fee, err2 := bigInt64(values[1])
	net, err3 := bigInt64(values[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, fmt.Errorf("%w: RentDeposited amounts out of range", ErrMalformedEvent)
	}

	return []Event{&RentDeposited{
		Meta:        meta,
		PropertyID:  propertyID,
		GrossAmount: gross,
		FeeAmount:   fee,
		NetAmount:   net,
	}}, nil
}

func (d *Decoder) decodeRewardClaimed(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 3 {
		return nil, fmt.Errorf("%w: RewardClaimed expects 3 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	propertyID, err := topicInt64(lg.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("%w: propertyId: %v", ErrMalformedEvent, err)
	}
	holder := topicAddress(lg.Topics[2])

	values, err := d.shareABI.Unpack("RewardClaimed", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: RewardClaimed data: %v", ErrMalformedEvent, err)
	}
	amount, err := bigInt64(values[0])
	if err != nil {
		return nil, fmt.Errorf("%w: RewardClaimed amount out of range", ErrMalformedEvent)
	}

	return []Event{&RewardClaimed{
		Meta:       meta,
		PropertyID: propertyID,
		Holder:     holder,
		Amount:     amount,
	}}, nil
}

func (d *Decoder) decodeListingCreated(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 4 {
		return nil, fmt.Errorf("%w: ListingCreated expects 4 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	listingID, err1 := topicInt64(lg.Topics[1])
	propertyID, err2 := topicInt64(lg.Topics[2])
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: ListingCreated ids out of range", ErrMalformedEvent)
	}
	seller := topicAddress(lg.Topics[3])

	values, err := d.marketABI.Unpack("ListingCreated", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: ListingCreated data: %v", ErrMalformedEvent, err)
	}
	amount, err1 := bigInt64(values[0])
	pricePerShare, err2 := bigInt64(values[1])
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: ListingCreated amounts out of range", ErrMalformedEvent)
	}

	return []Event{&ListingCreated{
		Meta:          meta,
		ListingID:     listingID,
		PropertyID:    propertyID,
		Seller:        seller,
		Amount:        amount,
		PricePerShare: pricePerShare,
	}}, nil
}

func (d *Decoder) decodeListingCancelled(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 2 {
		return nil, fmt.Errorf("%w: ListingCancelled expects 2 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	listingID, err := topicInt64(lg.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("%w: listingId: %v", ErrMalformedEvent, err)
	}
	return []Event{&ListingCancelled{Meta: meta, ListingID: listingID}}, nil
}

func (d *Decoder) decodeListingPurchased(lg ethtypes.Log, meta Meta) ([]Event, error) {
	if len(lg.Topics) != 3 {
		return nil, fmt.Errorf("%w: ListingPurchased expects 3 topics, got %d", ErrMalformedEvent, len(lg.Topics))
	}
	listingID, err := topicInt64(lg.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("%w: listingId: %v", ErrMalformedEvent, err)
	}
	buyer := topicAddress(lg.Topics[2])
	return []Event{&ListingPurchased{Meta: meta, ListingID: listingID, Buyer: buyer}}, nil
}

// topicAddress extracts an indexed address parameter from a topic, in
// lowercase canonical form.
func topicAddress(topic common.Hash) string {
	return strings.ToLower(common.BytesToAddress(topic.Bytes()).Hex())
}

// topicInt64 extracts an indexed uint256 parameter from a topic.
func topicInt64(topic common.Hash) (int64, error) {
	return bigInt64(new(big.Int).SetBytes(topic.Bytes()))
}

// bigInt64 narrows an unpacked uint256 to int64. Amounts in this system are
// share counts and cent-denominated sums; anything wider is malformed.
func bigInt64(v interface{}) (int64, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("expected *big.Int, got %T", v)
	}
	if !b.IsInt64() || b.Sign() < 0 {
		return 0, fmt.Errorf("value %s out of int64 range", b.String())
	}
	return b.Int64(), nil
}
