package token

import (
	"context"
	"fmt"
	"strings"
)

// Service is a minimal fungible ledger: mint, burn, balances. It backs
// the vesting flows on both sides: activation burns subscription units,
// claim settlement mints sponsorship credit.
type Service struct {
	store Store
}

// NewService wires a Service.
func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store}, nil
}

// Mint adds amount to the holder's balance.
func (service *Service) Mint(ctx context.Context, holderID string, amount Amount) error {
	if err := validateHolderID(holderID); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: mint amount must be positive", ErrInvalidAmount)
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		_, err := txStore.AddBalance(ctx, holderID, amount)
		return err
	})
}

// Burn removes amount from the holder's balance. Balances never go
// negative: burning more than the holder owns fails with
// ErrInsufficientBalance and changes nothing.
func (service *Service) Burn(ctx context.Context, holderID string, amount Amount) error {
	if err := validateHolderID(holderID); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: burn amount must be positive", ErrInvalidAmount)
	}
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		_, err := txStore.AddBalance(ctx, holderID, -amount)
		return err
	})
}

// BalanceOf returns the holder's current balance.
func (service *Service) BalanceOf(ctx context.Context, holderID string) (Amount, error) {
	if err := validateHolderID(holderID); err != nil {
		return 0, err
	}
	return service.store.Balance(ctx, holderID)
}

// TotalSupply returns the sum of all balances.
func (service *Service) TotalSupply(ctx context.Context) (Amount, error) {
	return service.store.TotalSupply(ctx)
}

// WalletOf returns the holder's balance together with the total supply.
func (service *Service) WalletOf(ctx context.Context, holderID string) (Wallet, error) {
	balance, err := service.BalanceOf(ctx, holderID)
	if err != nil {
		return Wallet{}, err
	}
	supply, err := service.TotalSupply(ctx)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{Balance: balance, TotalSupply: supply}, nil
}

func validateHolderID(holderID string) error {
	if strings.TrimSpace(holderID) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidHolderID)
	}
	return nil
}
