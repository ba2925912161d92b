package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmit_ReturnsFnError(t *testing.T) {
	d := New(context.Background())
	wantErr := errors.New("boom")
	err := d.Submit("m1", func() error { return wantErr })
	if err != wantErr {
		t.Errorf("Submit error = %v, want %v", err, wantErr)
	}
}

func TestSubmit_SameMarketSerialized(t *testing.T) {
	d := New(context.Background())

	var mu sync.Mutex
	var order []int
	var inFlight, maxInFlight int
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = d.Submit("m1", func() error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inFlight--
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
	}
	wg.Wait()

	if len(order) != 20 {
		t.Fatalf("expected 20 completions, got %d", len(order))
	}
	if maxInFlight != 1 {
		t.Errorf("expected same-market tasks to run one at a time, max concurrent = %d", maxInFlight)
	}
}

func TestSubmit_DifferentMarketsRunConcurrently(t *testing.T) {
	d := New(context.Background())

	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	observe := func() error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxObserved)
			if n <= max || atomic.CompareAndSwapInt32(&maxObserved, max, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	for _, market := range []string{"m1", "m2", "m3"} {
		wg.Add(1)
		go func(market string) {
			defer wg.Done()
			_ = d.Submit(market, observe)
		}(market)
	}
	wg.Wait()

	if atomic.LoadInt32(&maxObserved) < 2 {
		t.Errorf("expected tasks for distinct markets to overlap, max concurrent = %d", maxObserved)
	}
}

func TestSubmit_CancelledContextUnblocks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := New(ctx)

	cancel()
	// Lane goroutine may not have observed cancellation yet; Submit must
	// still return (via ctx.Done in the select) rather than hang.
	done := make(chan struct{})
	go func() {
		_ = d.Submit("m1", func() error {
			time.Sleep(50 * time.Millisecond)
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after context cancellation")
	}
}
