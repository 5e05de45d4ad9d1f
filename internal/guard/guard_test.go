package guard

import (
	"context"
	"sync"
	"testing"

	"github.com/propshare/share-indexer/internal/types"
)

func TestMemoryGuardClaimReleaseCycle(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()
	key := types.EventKey{TxHash: "0xabc", LogIndex: 2, ItemIndex: 0}

	claimed, err := g.TryClaim(ctx, key)
	if err != nil {
		t.Fatalf("TryClaim() error = %v", err)
	}
	if !claimed {
		t.Fatal("first TryClaim() = false, want true")
	}

	claimed, err = g.TryClaim(ctx, key)
	if err != nil {
		t.Fatalf("TryClaim() error = %v", err)
	}
	if claimed {
		t.Fatal("second TryClaim() = true, want false")
	}

	if err := g.Release(ctx, key); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	claimed, err = g.TryClaim(ctx, key)
	if err != nil {
		t.Fatalf("TryClaim() after release error = %v", err)
	}
	if !claimed {
		t.Fatal("TryClaim() after release = false, want true")
	}
}

func TestMemoryGuardDistinguishesItemIndex(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := types.EventKey{TxHash: "0xbatch", LogIndex: 1, ItemIndex: i}
		claimed, err := g.TryClaim(ctx, key)
		if err != nil {
			t.Fatalf("TryClaim(item %d) error = %v", i, err)
		}
		if !claimed {
			t.Errorf("TryClaim(item %d) = false, want true", i)
		}
	}
	if g.Len() != 3 {
		t.Errorf("Len() = %d, want 3", g.Len())
	}
}

func TestMemoryGuardConcurrentClaims(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()
	key := types.EventKey{TxHash: "0xrace", LogIndex: 0, ItemIndex: 0}

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := g.TryClaim(ctx, key)
			if err != nil {
				t.Errorf("TryClaim() error = %v", err)
				return
			}
			if claimed {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	var total int
	for range wins {
		total++
	}
	if total != 1 {
		t.Errorf("%d goroutines won the claim, want exactly 1", total)
	}
}
