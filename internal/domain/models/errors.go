package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means an input has no data this cycle. Callers treat the
	// input as disabled rather than neutral.
	ErrUnavailable      = errors.New("data unavailable")
	ErrPositionNotFound = errors.New("position not found")
	ErrDecisionNotFound = errors.New("decision not found")
)

type DuplicateOpenPositionError struct {
	Symbol       string
	StrategyName string
	ExistingID   string
}

func (e *DuplicateOpenPositionError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("open position already exists for %s/%s", e.Symbol, e.StrategyName)
	}
	return fmt.Sprintf("open position %s already exists for %s/%s", e.ExistingID, e.Symbol, e.StrategyName)
}

type PositionNotOpenError struct {
	PositionID string
	Status     PositionStatus
}

func (e *PositionNotOpenError) Error() string {
	return fmt.Sprintf("position %s is not open (status %s)", e.PositionID, e.Status)
}

type QuantityMismatchError struct {
	PositionID string
	Expected   float64
	Got        float64
}

func (e *QuantityMismatchError) Error() string {
	return fmt.Sprintf("position %s: exit quantity %v does not match open quantity %v", e.PositionID, e.Got, e.Expected)
}

// InvalidTradeError rejects a malformed trade before any state changes.
type InvalidTradeError struct {
	Reason string
}

func (e *InvalidTradeError) Error() string { return "invalid trade: " + e.Reason }

// InvalidRecordError rejects a consolidated record that can never be stored.
type InvalidRecordError struct {
	Reason string
}

func (e *InvalidRecordError) Error() string { return "invalid record: " + e.Reason }

// IsInvariantViolation reports whether err is one of the ledger's rejections.
func IsInvariantViolation(err error) bool {
	var dup *DuplicateOpenPositionError
	var notOpen *PositionNotOpenError
	var qty *QuantityMismatchError
	var bad *InvalidTradeError
	return errors.As(err, &dup) || errors.As(err, &notOpen) || errors.As(err, &qty) || errors.As(err, &bad)
}
