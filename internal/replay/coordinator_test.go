package replay

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/propshare/share-indexer/internal/decoder"
	"github.com/propshare/share-indexer/internal/guard"
	"github.com/propshare/share-indexer/internal/projector"
	"github.com/propshare/share-indexer/internal/storage"
	"github.com/propshare/share-indexer/internal/types"
)

var (
	shareTokenAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	marketplaceAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	operatorAddr    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	aliceAddr       = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	sentinelAddr    = common.HexToAddress(types.SentinelAddress)
)

// fakeChain serves canned logs and deterministic headers. Header hashes
// derive from the per-block fork marker, so flipping a marker simulates a
// reorg at that block.
type fakeChain struct {
	mu   sync.Mutex
	head uint64
	fork map[uint64]byte
	logs []ethtypes.Log
}

func (f *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []ethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(q.Addresses) > 0 && q.Addresses[0] != lg.Address {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (f *fakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*ethtypes.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := number.Uint64()
	return &ethtypes.Header{
		Number:     new(big.Int).SetUint64(n),
		Time:       1700000000 + n,
		Extra:      []byte{f.fork[n]},
		Difficulty: big.NewInt(0),
	}, nil
}

func (f *fakeChain) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) reorgAt(block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fork == nil {
		f.fork = make(map[uint64]byte)
	}
	f.fork[block]++
}

type testHarness struct {
	chain       *fakeChain
	coordinator *Coordinator
	store       *storage.MemStore
	shareABI    abi.ABI
}

func newHarness(t *testing.T, startBlock, reorgRewind uint64) *testHarness {
	t.Helper()

	d, err := decoder.NewDecoder(shareTokenAddr, marketplaceAddr)
	if err != nil {
		t.Fatalf("NewDecoder() error = %v", err)
	}
	shareABI, err := decoder.ShareTokenABI()
	if err != nil {
		t.Fatalf("ShareTokenABI() error = %v", err)
	}

	store := storage.NewMemStore()
	proj := projector.New(store, store, store, store, store, guard.NewMemoryGuard(), nil)
	chain := &fakeChain{}

	coordinator, err := NewCoordinator(&Config{
		Chain:       chain,
		Decoder:     d,
		Projector:   proj,
		Checkpoints: store,
		DeadLetters: store,
		StartBlock:  startBlock,
		ReorgRewind: reorgRewind,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	return &testHarness{chain: chain, coordinator: coordinator, store: store, shareABI: shareABI}
}

func (h *testHarness) pack(t *testing.T, event string, args ...interface{}) []byte {
	t.Helper()
	data, err := h.shareABI.Events[event].Inputs.NonIndexed().Pack(args...)
	if err != nil {
		t.Fatalf("failed to pack %s: %v", event, err)
	}
	return data
}

func (h *testHarness) addLog(lg ethtypes.Log) {
	h.chain.mu.Lock()
	defer h.chain.mu.Unlock()
	h.chain.logs = append(h.chain.logs, lg)
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func (h *testHarness) addPropertyCreated(t *testing.T, block uint64, txIndex, logIndex uint, propertyID int64) {
	t.Helper()
	h.addLog(ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			h.shareABI.Events["PropertyCreated"].ID,
			common.BigToHash(big.NewInt(propertyID)),
		},
		Data:        h.pack(t, "PropertyCreated", "Harbor View", "Lisbon", big.NewInt(1000), big.NewInt(5000)),
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash(block, txIndex)),
		TxIndex:     txIndex,
		Index:       logIndex,
	})
}

func (h *testHarness) addTransfer(t *testing.T, block uint64, txIndex, logIndex uint, propertyID int64, from, to common.Address, amount int64) {
	t.Helper()
	h.addLog(ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			h.shareABI.Events["TransferSingle"].ID,
			addressTopic(operatorAddr),
			addressTopic(from),
			addressTopic(to),
		},
		Data:        h.pack(t, "TransferSingle", big.NewInt(propertyID), big.NewInt(amount)),
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash(block, txIndex)),
		TxIndex:     txIndex,
		Index:       logIndex,
	})
}

func (h *testHarness) addDeposit(t *testing.T, block uint64, txIndex, logIndex uint, propertyID int64) {
	t.Helper()
	h.addLog(ethtypes.Log{
		Address: shareTokenAddr,
		Topics: []common.Hash{
			h.shareABI.Events["RentDeposited"].ID,
			common.BigToHash(big.NewInt(propertyID)),
		},
		Data:        h.pack(t, "RentDeposited", big.NewInt(1000), big.NewInt(25), big.NewInt(975)),
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash(block, txIndex)),
		TxIndex:     txIndex,
		Index:       logIndex,
	})
}

func txHash(block uint64, txIndex uint) string {
	return common.BigToHash(big.NewInt(int64(block)*1000 + int64(txIndex))).Hex()
}

func TestRunAppliesInMergeOrder(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	// Inserted deliberately out of order; Run must sort before applying.
	h.addTransfer(t, 12, 0, 0, 42, aliceAddr, sentinelAddr, 10) // burn 10, third
	h.addTransfer(t, 11, 1, 0, 42, sentinelAddr, aliceAddr, 70) // second mint
	h.addTransfer(t, 11, 0, 2, 42, sentinelAddr, aliceAddr, 30) // first mint
	h.addPropertyCreated(t, 10, 0, 0, 42)

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 15); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	transfers := h.store.Transfers()
	if len(transfers) != 3 {
		t.Fatalf("got %d transfer records, want 3", len(transfers))
	}
	wantAmounts := []int64{30, 70, 10}
	for i, want := range wantAmounts {
		if transfers[i].Amount != want {
			t.Errorf("record %d amount = %d, want %d", i, transfers[i].Amount, want)
		}
	}

	holder, err := h.store.GetHolder(ctx, 42, strings.ToLower(aliceAddr.Hex()))
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if holder.Balance != 90 {
		t.Errorf("balance = %d, want 90", holder.Balance)
	}

	cp, err := h.store.GetCheckpoint(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.BlockNumber != 15 {
		t.Errorf("checkpoint = %d, want 15", cp.BlockNumber)
	}
	if cp.BlockHash == "" {
		t.Error("checkpoint block hash is empty")
	}
}

func TestRunRejectsOverlappingRange(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 20); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := h.coordinator.Run(ctx, types.SourceShareToken, 15, 25); err == nil {
		t.Fatal("Run() with overlapping range succeeded, want error")
	}
	if err := h.coordinator.Run(ctx, types.SourceShareToken, 21, 25); err != nil {
		t.Fatalf("Run() with adjacent range error = %v", err)
	}
}

func TestRunSkipsMissingDependencyAndAdvances(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	// Deposit for a property that was never created in this range.
	h.addDeposit(t, 12, 0, 0, 99)

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 15); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cp, err := h.store.GetCheckpoint(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.BlockNumber != 15 {
		t.Errorf("checkpoint = %d, want 15 despite skipped event", cp.BlockNumber)
	}

	skipped := h.store.Skipped()
	if len(skipped) != 1 {
		t.Fatalf("got %d skipped events, want 1", len(skipped))
	}
	if skipped[0].BlockNumber != 12 {
		t.Errorf("skipped block = %d, want 12", skipped[0].BlockNumber)
	}
	if skipped[0].Reason == "" {
		t.Error("skipped reason is empty")
	}
}

func TestRunLockExcludesConcurrentRun(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	locker := NewMemoryLocker()
	h.coordinator.locker = locker

	release, err := locker.Acquire(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 15); err == nil {
		t.Fatal("Run() succeeded while lock held, want error")
	}
	release()

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 15); err != nil {
		t.Fatalf("Run() after release error = %v", err)
	}
}

func TestCheckReorgRewindsCheckpoint(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 30); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// No reorg: hash still matches.
	reorged, err := h.coordinator.CheckReorg(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("CheckReorg() error = %v", err)
	}
	if reorged {
		t.Fatal("CheckReorg() = true on unchanged chain")
	}

	h.chain.reorgAt(30)

	reorged, err = h.coordinator.CheckReorg(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("CheckReorg() after fork error = %v", err)
	}
	if !reorged {
		t.Fatal("CheckReorg() = false after fork")
	}

	cp, err := h.store.GetCheckpoint(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.BlockNumber != 25 {
		t.Errorf("rewound checkpoint = %d, want 25", cp.BlockNumber)
	}
}

func TestCheckReorgRewindClampsToStartBlock(t *testing.T) {
	h := newHarness(t, 10, 50)
	ctx := context.Background()

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 30); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	h.chain.reorgAt(30)

	if _, err := h.coordinator.CheckReorg(ctx, types.SourceShareToken); err != nil {
		t.Fatalf("CheckReorg() error = %v", err)
	}

	cp, err := h.store.GetCheckpoint(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.BlockNumber != 10 {
		t.Errorf("rewound checkpoint = %d, want start block 10", cp.BlockNumber)
	}
}

func TestReorgReprocessingIsIdempotent(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	h.addPropertyCreated(t, 10, 0, 0, 42)
	h.addTransfer(t, 26, 0, 0, 42, sentinelAddr, aliceAddr, 100)

	if err := h.coordinator.Run(ctx, types.SourceShareToken, 10, 30); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	h.chain.reorgAt(30)
	if _, err := h.coordinator.CheckReorg(ctx, types.SourceShareToken); err != nil {
		t.Fatalf("CheckReorg() error = %v", err)
	}

	// Reprocess the rewound range; the surviving transfer must not double.
	if err := h.coordinator.Run(ctx, types.SourceShareToken, 26, 30); err != nil {
		t.Fatalf("Run(reprocess) error = %v", err)
	}

	holder, err := h.store.GetHolder(ctx, 42, strings.ToLower(aliceAddr.Hex()))
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if holder.Balance != 100 {
		t.Errorf("balance after reprocessing = %d, want 100", holder.Balance)
	}
	if got := len(h.store.Transfers()); got != 1 {
		t.Errorf("got %d transfer records after reprocessing, want 1", got)
	}
}

func TestBackfillChunksAndResumes(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	h.addPropertyCreated(t, 10, 0, 0, 42)
	h.addTransfer(t, 17, 0, 0, 42, sentinelAddr, aliceAddr, 100)
	h.addTransfer(t, 29, 0, 0, 42, aliceAddr, sentinelAddr, 40)

	if err := h.coordinator.Backfill(ctx, types.SourceShareToken, 10, 29, 7); err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}

	cp, err := h.store.GetCheckpoint(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.BlockNumber != 29 {
		t.Errorf("checkpoint = %d, want 29", cp.BlockNumber)
	}

	holder, err := h.store.GetHolder(ctx, 42, strings.ToLower(aliceAddr.Hex()))
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if holder.Balance != 60 {
		t.Errorf("balance = %d, want 60", holder.Balance)
	}

	// A rerun over the same range resumes past the committed checkpoint and
	// changes nothing.
	if err := h.coordinator.Backfill(ctx, types.SourceShareToken, 10, 29, 7); err != nil {
		t.Fatalf("Backfill(rerun) error = %v", err)
	}
	if got := len(h.store.Transfers()); got != 2 {
		t.Errorf("got %d transfer records after rerun, want 2", got)
	}
}

func TestTailOnceStaysBehindConfirmations(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	h.chain.head = 30
	h.addPropertyCreated(t, 10, 0, 0, 42)
	h.addTransfer(t, 24, 0, 0, 42, sentinelAddr, aliceAddr, 100)
	h.addTransfer(t, 28, 0, 0, 42, sentinelAddr, aliceAddr, 50) // above safe head

	if err := h.coordinator.tailOnce(ctx, types.SourceShareToken, 5, 0); err != nil {
		t.Fatalf("tailOnce() error = %v", err)
	}

	cp, err := h.store.GetCheckpoint(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.BlockNumber != 25 {
		t.Errorf("checkpoint = %d, want 25", cp.BlockNumber)
	}

	holder, err := h.store.GetHolder(ctx, 42, strings.ToLower(aliceAddr.Hex()))
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if holder.Balance != 100 {
		t.Errorf("balance = %d, want 100 (unconfirmed transfer excluded)", holder.Balance)
	}

	// The next cycle picks up from the committed checkpoint.
	h.chain.head = 40
	if err := h.coordinator.tailOnce(ctx, types.SourceShareToken, 5, 0); err != nil {
		t.Fatalf("tailOnce() second cycle error = %v", err)
	}

	holder, err = h.store.GetHolder(ctx, 42, strings.ToLower(aliceAddr.Hex()))
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if holder.Balance != 150 {
		t.Errorf("balance after second cycle = %d, want 150", holder.Balance)
	}
}

func TestTailOnceClampsToMaxBlocksPerPoll(t *testing.T) {
	h := newHarness(t, 10, 5)
	ctx := context.Background()

	h.chain.head = 1000
	if err := h.coordinator.tailOnce(ctx, types.SourceShareToken, 5, 50); err != nil {
		t.Fatalf("tailOnce() error = %v", err)
	}

	cp, err := h.store.GetCheckpoint(ctx, types.SourceShareToken)
	if err != nil {
		t.Fatalf("GetCheckpoint() error = %v", err)
	}
	if cp.BlockNumber != 59 {
		t.Errorf("checkpoint = %d, want 59 (10 + 50 - 1)", cp.BlockNumber)
	}
}

// Guard against accidental interface drift between the fake and the client.
var _ LogSource = (*fakeChain)(nil)
