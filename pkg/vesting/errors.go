package vesting

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the vesting service.
var (
	ErrInvalidUnitCount        = errors.New("invalid unit count")
	ErrNoClaimableCredit       = errors.New("no claimable credit")
	ErrClaimedExceedsProduced  = errors.New("claimed credit exceeds produced credit")
	ErrCreditOverflow          = errors.New("credit amount overflow")
	ErrBatchFromFuture         = errors.New("batch purchased in the future")
	ErrStaleClaim              = errors.New("claimed counter changed concurrently")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrUnknownAccount          = errors.New("unknown account")
	ErrInvalidSubscriberID     = errors.New("invalid subscriber id")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidBatchID          = errors.New("invalid batch id")
	ErrInvalidCreditAmount     = errors.New("invalid credit amount")
	ErrInvalidPurchaseTime     = errors.New("invalid purchase time")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
