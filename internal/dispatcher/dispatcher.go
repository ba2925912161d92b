// Package dispatcher implements MarketDispatcher: one single-consumer
// task queue per market, so order execution is serialized within a
// market but runs in parallel across markets. This replaces the
// teacher's single process-wide mutex (trade.Service.mu) — a REDESIGN
// FLAG target, since a global lock serializes unrelated markets for no
// correctness reason.
//
// The single-consumer-channel idiom is grounded on trade.WSHub.Run's
// event loop and on chycee-CryptoGo/internal/engine.Sequencer's inbox
// channel + dedicated processing goroutine; lanes are created lazily
// and keyed by market ID, the way trade.WSHub lazily registers clients.
package dispatcher

import (
	"context"
	"sync"
)

// QueueSize is the bounded channel depth for each per-market lane.
// Execution on a lane is fast (in-memory LMSR math plus a ledger
// append); a deep backlog signals a stuck consumer rather than a need
// for more buffering.
const QueueSize = 256

// Task is a unit of work submitted to a market's lane.
type Task func()

type lane struct {
	tasks chan Task
}

// Dispatcher owns one lane per market, created on first use.
type Dispatcher struct {
	mu    sync.Mutex
	lanes map[string]*lane
	ctx   context.Context
}

// New constructs a Dispatcher. Lanes started by Dispatch run until ctx
// is cancelled.
func New(ctx context.Context) *Dispatcher {
	return &Dispatcher{
		lanes: make(map[string]*lane),
		ctx:   ctx,
	}
}

func (d *Dispatcher) laneFor(marketID string) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.lanes[marketID]
	if ok {
		return l
	}

	l = &lane{tasks: make(chan Task, QueueSize)}
	d.lanes[marketID] = l
	go d.run(l)
	return l
}

func (d *Dispatcher) run(l *lane) {
	for {
		select {
		case <-d.ctx.Done():
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Dispatch enqueues task onto marketID's lane and returns immediately.
// Tasks for the same market always execute in submission order, one at
// a time; tasks for different markets run concurrently.
func (d *Dispatcher) Dispatch(marketID string, task Task) {
	d.laneFor(marketID).tasks <- task
}

// Submit enqueues fn and blocks until it has run, returning its error.
// This is the shape executor.ExecuteMarketOrder uses to turn the async
// dispatcher back into the synchronous call spec.md's API describes.
func (d *Dispatcher) Submit(marketID string, fn func() error) error {
	done := make(chan error, 1)
	d.Dispatch(marketID, func() {
		done <- fn()
	})
	select {
	case err := <-done:
		return err
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}
