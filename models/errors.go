package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is wrapped by lookups on missing orders, items, products
// and ingredients.
var ErrNotFound = errors.New("record not found")

// ValidationError rejects malformed input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InsufficientStockError reports the first shortfall that blocked an
// all-or-nothing reservation. Nothing was written.
type InsufficientStockError struct {
	IngredientId   int
	IngredientName string
	Needed         decimal.Decimal
	Available      decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (id=%d): need %s, have %s",
		e.IngredientName, e.IngredientId, e.Needed.String(), e.Available.String())
}

// InvalidTransitionError reports a requested edge the state machine
// does not allow.
type InvalidTransitionError struct {
	Entity    string
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.Current, e.Requested)
}

// ConflictError reports an optimistic version mismatch. The caller
// should re-read and retry with fresh state.
type ConflictError struct {
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, actual %d", e.ExpectedVersion, e.ActualVersion)
}

// NotFoundError names the missing resource; unwraps to ErrNotFound so
// errors.Is(err, ErrNotFound) holds.
type NotFoundError struct {
	Resource string
	Id       int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.Id)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}
