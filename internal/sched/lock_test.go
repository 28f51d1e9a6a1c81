package sched

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"happbot/internal/state"
	"happbot/internal/storage"
	"happbot/pkg/logx"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	kv, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return state.New(kv)
}

func TestLockMutualExclusion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLockManager(newTestStore(t), 30*time.Second, logx.Nop())

	if !l.TryAcquire(ctx, 42) {
		t.Fatal("first acquire should succeed")
	}
	if l.TryAcquire(ctx, 42) {
		t.Fatal("second acquire within TTL should fail")
	}

	// Another owner is unaffected.
	if !l.TryAcquire(ctx, 43) {
		t.Fatal("acquire for a different owner should succeed")
	}
}

func TestLockReleaseFreesOwnerImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLockManager(newTestStore(t), 30*time.Second, logx.Nop())

	if !l.TryAcquire(ctx, 7) {
		t.Fatal("acquire failed")
	}
	l.Release(ctx, 7)
	if !l.TryAcquire(ctx, 7) {
		t.Fatal("acquire after release should succeed without waiting for TTL")
	}
}

func TestLockExpiredLeaseIsReacquirable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLockManager(newTestStore(t), 30*time.Second, logx.Nop())

	// First holder acquired in the past; its lease has lapsed.
	past := time.Now().Add(-time.Minute)
	l.now = func() time.Time { return past }
	if !l.TryAcquire(ctx, 7) {
		t.Fatal("acquire failed")
	}

	l.now = time.Now
	if !l.TryAcquire(ctx, 7) {
		t.Fatal("expired lease should be reacquirable")
	}
}

func TestLockConcurrentAcquireSingleWinner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLockManager(newTestStore(t), 30*time.Second, logx.Nop())

	const attempts = 16
	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l.TryAcquire(ctx, 99) {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}
