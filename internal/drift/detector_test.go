package drift

import (
	"context"
	"errors"
	"testing"

	"github.com/propshare/share-indexer/internal/storage"
)

const alice = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// fakeBalanceReader serves canned chain balances pinned at a fixed block.
type fakeBalanceReader struct {
	balances  map[string]int64
	readBlock uint64
	err       error
}

func (f *fakeBalanceReader) ShareBalance(_ context.Context, holder string, propertyID int64) (int64, uint64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.balances[holder], f.readBlock, nil
}

func seedHolder(t *testing.T, store *storage.MemStore, balance int64, block uint64) {
	t.Helper()
	if err := store.AdjustBalance(context.Background(), 42, alice, balance, block); err != nil {
		t.Fatalf("AdjustBalance() error = %v", err)
	}
}

func TestRunOnceCorrectsDrift(t *testing.T) {
	store := storage.NewMemStore()
	seedHolder(t, store, 90, 100)

	chain := &fakeBalanceReader{balances: map[string]int64{alice: 100}, readBlock: 120}
	d := NewDetector(chain, store, store, 10, nil)

	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Checked != 1 || report.Drifted != 1 || report.Corrected != 1 || report.Stale != 0 {
		t.Errorf("report = %+v, want 1 checked, 1 drifted, 1 corrected", report)
	}

	holder, err := store.GetHolder(context.Background(), 42, alice)
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if holder.Balance != 100 {
		t.Errorf("balance = %d, want corrected 100", holder.Balance)
	}

	corrections := store.Corrections()
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	c := corrections[0]
	if c.ProjectedBalance != 90 || c.ChainBalance != 100 || c.ReadBlock != 120 || !c.Applied {
		t.Errorf("unexpected correction %+v", c)
	}
	if c.ID == "" {
		t.Error("correction ID is empty")
	}
}

func TestRunOnceNoDriftNoCorrection(t *testing.T) {
	store := storage.NewMemStore()
	seedHolder(t, store, 100, 100)

	chain := &fakeBalanceReader{balances: map[string]int64{alice: 100}, readBlock: 120}
	d := NewDetector(chain, store, store, 10, nil)

	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Checked != 1 || report.Drifted != 0 {
		t.Errorf("report = %+v, want 1 checked, 0 drifted", report)
	}
	if len(store.Corrections()) != 0 {
		t.Error("correction recorded without drift")
	}
}

func TestRunOnceStaleReadLosesFence(t *testing.T) {
	store := storage.NewMemStore()
	// The holder was touched at block 150, after the chain read at 120.
	seedHolder(t, store, 90, 150)

	chain := &fakeBalanceReader{balances: map[string]int64{alice: 100}, readBlock: 120}
	d := NewDetector(chain, store, store, 10, nil)

	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Drifted != 1 || report.Corrected != 0 || report.Stale != 1 {
		t.Errorf("report = %+v, want 1 drifted, 0 corrected, 1 stale", report)
	}

	holder, err := store.GetHolder(context.Background(), 42, alice)
	if err != nil {
		t.Fatalf("GetHolder() error = %v", err)
	}
	if holder.Balance != 90 {
		t.Errorf("balance = %d, stale correction must not overwrite", holder.Balance)
	}

	corrections := store.Corrections()
	if len(corrections) != 1 || corrections[0].Applied {
		t.Errorf("stale correction should be recorded with applied=false, got %+v", corrections)
	}
}

func TestRunOnceSkipsUnreadableHolders(t *testing.T) {
	store := storage.NewMemStore()
	seedHolder(t, store, 90, 100)

	chain := &fakeBalanceReader{err: errors.New("rpc unavailable")}
	d := NewDetector(chain, store, store, 10, nil)

	report, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Checked != 0 || report.Drifted != 0 {
		t.Errorf("report = %+v, want nothing checked when reads fail", report)
	}
}
