package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors. Callers compare with errors.Is.
var (
	ErrMalformedRecord    = errors.New("malformed record")
	ErrAlreadyLinked      = errors.New("record already has an active link")
	ErrNoActiveLink       = errors.New("record has no active link")
	ErrAllocationMismatch = errors.New("allocation sum does not match parent amount")
	ErrAlreadySplit       = errors.New("record is already split")
	ErrPrimaryAllocation  = errors.New("primary allocation cannot be removed while other allocations exist")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state for operation")
	ErrStaleMatch         = errors.New("charter changed since the match was made")
)

// MalformedRecordError describes a raw record that could not be normalized.
type MalformedRecordError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record: %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *MalformedRecordError) Unwrap() error { return ErrMalformedRecord }

// AllocationMismatchError carries the signed difference parent - sum(parts).
type AllocationMismatchError struct {
	ParentAmount decimal.Decimal
	Allocated    decimal.Decimal
	Diff         decimal.Decimal
}

func (e *AllocationMismatchError) Error() string {
	return fmt.Sprintf("allocation mismatch: parent %s, allocated %s (diff %s)",
		e.ParentAmount.StringFixed(2), e.Allocated.StringFixed(2), e.Diff.StringFixed(2))
}

func (e *AllocationMismatchError) Unwrap() error { return ErrAllocationMismatch }
