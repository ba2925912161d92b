package wsfeed

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/predictionmkt/engine/internal/model"
)

func TestNotifyPrice_DoesNotBlockWithNoClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	done := make(chan struct{})
	go func() {
		h.NotifyPrice("m1", decimal.NewFromFloat(0.5))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyPrice blocked with no connected clients")
	}
}

func TestNotifyOrder_DoesNotBlockWithNoClients(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	done := make(chan struct{})
	go func() {
		h.NotifyOrder(model.Order{ID: "o1", Status: model.OrderFilled})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("NotifyOrder blocked with no connected clients")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
