// Package orderstate implements the order lifecycle state machine: the
// legal transitions between model.OrderStatus values, and the side
// effects (UpdatedAt refresh, CompletedAt stamping, rejection reason)
// that accompany each transition.
package orderstate

import (
	"errors"
	"fmt"
	"time"

	"github.com/predictionmkt/engine/internal/model"
)

// ErrIllegalTransition is returned when a transition is not in the
// legal-transition table.
var ErrIllegalTransition = errors.New("orderstate: illegal transition")

// legal maps a from-state to the set of states it may transition to.
var legal = map[model.OrderStatus]map[model.OrderStatus]bool{
	model.OrderNew: {
		model.OrderOpen:     true,
		model.OrderRejected: true,
	},
	model.OrderOpen: {
		model.OrderPartial:   true,
		model.OrderFilled:    true,
		model.OrderCancelled: true,
		model.OrderRejected:  true,
	},
	model.OrderPartial: {
		model.OrderFilled:    true,
		model.OrderCancelled: true,
	},
}

var terminal = map[model.OrderStatus]bool{
	model.OrderFilled:    true,
	model.OrderCancelled: true,
	model.OrderRejected:  true,
}

// IsTerminal reports whether status is absorbing.
func IsTerminal(status model.OrderStatus) bool {
	return terminal[status]
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to model.OrderStatus) bool {
	return legal[from][to]
}

// Transition moves order.Status from its current value to to,
// refreshing UpdatedAt and, when to is terminal, CompletedAt. It fails
// with ErrIllegalTransition and leaves order unmodified if the
// transition is not legal.
func Transition(order *model.Order, to model.OrderStatus, now time.Time) error {
	if !CanTransition(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, to)
	}
	order.Status = to
	order.UpdatedAt = now
	if IsTerminal(to) {
		completedAt := now
		order.CompletedAt = &completedAt
	}
	return nil
}

// Reject is the only path that populates RejectionReason. It performs
// the NEW→REJECTED or OPEN→REJECTED transition.
func Reject(order *model.Order, reason string, now time.Time) error {
	if err := Transition(order, model.OrderRejected, now); err != nil {
		return err
	}
	order.RejectionReason = reason
	return nil
}
