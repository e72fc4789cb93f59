package token

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/clearledger/sponsorvest/pkg/vesting"
	"github.com/stretchr/testify/require"
)

const holderAlice = "subscriber-alice"

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	service, err := NewService(store)
	require.NoError(t, err)
	return service, store
}

func TestMintAndBalance(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)

	require.NoError(t, service.Mint(context.Background(), holderAlice, 25))
	balance, err := service.BalanceOf(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(25), balance)
}

func TestBurnReducesBalance(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)

	require.NoError(t, service.Mint(context.Background(), holderAlice, 10))
	require.NoError(t, service.Burn(context.Background(), holderAlice, 4))

	balance, err := service.BalanceOf(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(6), balance)
}

func TestBurnInsufficientBalance(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)

	require.NoError(t, service.Mint(context.Background(), holderAlice, 3))
	err := service.Burn(context.Background(), holderAlice, 5)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := service.BalanceOf(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(3), balance, "failed burn must not change the balance")
}

func TestMintValidation(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)

	require.ErrorIs(t, service.Mint(context.Background(), holderAlice, 0), ErrInvalidAmount)
	require.ErrorIs(t, service.Mint(context.Background(), holderAlice, -2), ErrInvalidAmount)
	require.ErrorIs(t, service.Mint(context.Background(), "  ", 1), ErrInvalidHolderID)
	require.ErrorIs(t, service.Burn(context.Background(), holderAlice, 0), ErrInvalidAmount)
}

func TestTotalSupplySumsHolders(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)

	require.NoError(t, service.Mint(context.Background(), "holder-one", 7))
	require.NoError(t, service.Mint(context.Background(), "holder-two", 5))
	require.NoError(t, service.Burn(context.Background(), "holder-one", 2))

	supply, err := service.TotalSupply(context.Background())
	require.NoError(t, err)
	require.Equal(t, Amount(10), supply)
}

func TestWalletOf(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)

	require.NoError(t, service.Mint(context.Background(), "holder-one", 7))
	require.NoError(t, service.Mint(context.Background(), "holder-two", 5))

	wallet, err := service.WalletOf(context.Background(), "holder-one")
	require.NoError(t, err)
	require.Equal(t, Amount(7), wallet.Balance)
	require.Equal(t, Amount(12), wallet.TotalSupply)
}

func TestTransactionRollbackKeepsBalances(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	rollbackErr := errors.New("abort")

	_, err := store.AddBalance(context.Background(), holderAlice, 8)
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(ctx context.Context, txStore Store) error {
		if _, err := txStore.AddBalance(ctx, holderAlice, 100); err != nil {
			return err
		}
		return rollbackErr
	})
	require.ErrorIs(t, err, rollbackErr)

	balance, err := store.Balance(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(8), balance)
}

func TestSupplyOverflowGuard(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)

	require.NoError(t, service.Mint(context.Background(), holderAlice, Amount(math.MaxInt64)))
	err := service.Mint(context.Background(), holderAlice, 1)
	require.ErrorIs(t, err, ErrSupplyOverflow)
}

func TestBurnRetirerBurnsUnits(t *testing.T) {
	t.Parallel()
	service, _ := newTestService(t)
	retirer := NewBurnRetirer(service)
	subscriberID, err := vesting.NewSubscriberID(holderAlice)
	require.NoError(t, err)

	require.NoError(t, service.Mint(context.Background(), holderAlice, 5))
	units, err := vesting.NewUnitCount(3)
	require.NoError(t, err)

	require.NoError(t, retirer.RetireUnits(context.Background(), subscriberID, units))
	balance, err := service.BalanceOf(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(2), balance)

	err = retirer.RetireUnits(context.Background(), subscriberID, units)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
