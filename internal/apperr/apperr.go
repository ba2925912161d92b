// Package apperr defines the shared error taxonomy used across the
// trade-execution engine. Each package still declares its own sentinel
// errors where it makes sense in isolation (see lmsr.ErrInvalidLiquidity,
// orderstate.ErrIllegalTransition, money.ErrArithmetic); apperr exists so
// the HTTP layer can map any of them to a status code and a JSON body in
// one place instead of duplicating a switch per handler.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of HTTP status mapping and
// metrics labeling.
type Kind string

const (
	KindInvalidAmount     Kind = "INVALID_AMOUNT"
	KindArithmeticError   Kind = "ARITHMETIC_ERROR"
	KindValidationFailed  Kind = "VALIDATION_FAILED"
	KindMarketNotFound    Kind = "MARKET_NOT_FOUND"
	KindOrderNotFound     Kind = "ORDER_NOT_FOUND"
	KindMarketClosed      Kind = "MARKET_CLOSED"
	KindInsufficientFunds Kind = "INSUFFICIENT_BALANCE"
	KindDuplicateNonce    Kind = "DUPLICATE_NONCE"
	KindIllegalTransition Kind = "ILLEGAL_TRANSITION"
	KindNotAuthorized     Kind = "NOT_AUTHORIZED"
	KindNotActive         Kind = "NOT_ACTIVE"
	KindRaceLost          Kind = "RACE_LOST"
	KindExecutionFailed   Kind = "EXECUTION_FAILED"
	KindRateLimited       Kind = "RATE_LIMITED"
	KindPersistenceError  Kind = "PERSISTENCE_ERROR"
)

// E is a kind-tagged error carrying optional structured fields for
// logging (e.g. {"user_id": "...", "market_id": "..."}).
type E struct {
	Kind   Kind
	Err    error
	Fields map[string]any
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *E) Unwrap() error {
	return e.Err
}

// New builds an *E with no wrapped error, just a kind and a message.
func New(kind Kind, msg string) *E {
	return &E{Kind: kind, Err: errors.New(msg)}
}

// Wrap tags an existing error with a kind.
func Wrap(kind Kind, err error) *E {
	return &E{Kind: kind, Err: err}
}

// WithField returns a copy of e with an additional structured field, for
// chaining at the call site: apperr.Wrap(...).WithField("user_id", id).
func (e *E) WithField(key string, value any) *E {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	return &E{Kind: e.Kind, Err: e.Err, Fields: fields}
}

// KindOf extracts the Kind from err if it is (or wraps) an *E, otherwise
// returns "" and false.
func KindOf(err error) (Kind, bool) {
	var e *E
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *E of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
