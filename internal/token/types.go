package token

import "context"

// Amount is a whole number of fungible units.
type Amount int64

// Wallet is the balance view for a holder.
type Wallet struct {
	Balance     Amount
	TotalSupply Amount
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// AddBalance applies a signed delta to the holder's balance and
	// returns the result. A delta that would drive the balance negative
	// fails with ErrInsufficientBalance and changes nothing.
	AddBalance(ctx context.Context, holderID string, delta Amount) (Amount, error)
	Balance(ctx context.Context, holderID string) (Amount, error)
	TotalSupply(ctx context.Context) (Amount, error)
}
