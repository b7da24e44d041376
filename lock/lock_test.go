package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ocflkit/ocfl"
	"github.com/ocflkit/ocfl/lock"
)

func TestInProcessSerializesWriters(t *testing.T) {
	l := lock.NewInProcess()
	ctx := context.Background()
	var mu sync.Mutex
	var order []int
	var active, maxActive int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.DoInWriteLock(ctx, "obj", time.Second, func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				order = append(order, i)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if len(order) != 5 {
		t.Fatalf("expected 5 writers to run, got %d", len(order))
	}
	if maxActive != 1 {
		t.Fatalf("expected writers to run one at a time, got %d at once", maxActive)
	}
}

func TestInProcessWriteLockTimesOut(t *testing.T) {
	l := lock.NewInProcess()
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.DoInWriteLock(ctx, "obj", time.Second, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := l.DoInWriteLock(ctx, "obj", 20*time.Millisecond, func(ctx context.Context) error {
		t.Fatalf("should not acquire lock while held")
		return nil
	})
	if !ocfl.Is(err, ocfl.KindLock) {
		t.Fatalf("expected KindLock error, got %v", err)
	}
}

func TestInProcessReadersDoNotBlockEachOther(t *testing.T) {
	l := lock.NewInProcess()
	ctx := context.Background()

	inBoth := make(chan struct{}, 2)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.DoInReadLock(ctx, "obj", time.Second, func(ctx context.Context) error {
				inBoth <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-inBoth:
		case <-time.After(time.Second):
			t.Fatalf("expected both readers to enter concurrently")
		}
	}
	close(release)
	wg.Wait()
}
