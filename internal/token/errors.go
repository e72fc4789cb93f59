package token

import "errors"

// Domain-level error values returned by the token service.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrSupplyOverflow       = errors.New("supply overflow")
	ErrBalanceConflict      = errors.New("balance changed concurrently")
	ErrInvalidHolderID      = errors.New("invalid holder id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
