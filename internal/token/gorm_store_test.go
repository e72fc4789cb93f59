package token

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newGormTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/tokens.db"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return NewGormStore(db)
}

func TestGormStoreAddBalanceCreatesRow(t *testing.T) {
	t.Parallel()
	store := newGormTestStore(t)

	next, err := store.AddBalance(context.Background(), holderAlice, 9)
	require.NoError(t, err)
	require.Equal(t, Amount(9), next)

	balance, err := store.Balance(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(9), balance)
}

func TestGormStoreBalanceWithoutRowIsZero(t *testing.T) {
	t.Parallel()
	store := newGormTestStore(t)

	balance, err := store.Balance(context.Background(), "holder-nobody")
	require.NoError(t, err)
	require.Equal(t, Amount(0), balance)
}

func TestGormStoreNegativeDriveRejected(t *testing.T) {
	t.Parallel()
	store := newGormTestStore(t)

	_, err := store.AddBalance(context.Background(), holderAlice, 4)
	require.NoError(t, err)

	_, err = store.AddBalance(context.Background(), holderAlice, -6)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := store.Balance(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(4), balance)
}

func TestGormStoreTotalSupplySumsRows(t *testing.T) {
	t.Parallel()
	store := newGormTestStore(t)

	_, err := store.AddBalance(context.Background(), "holder-one", 7)
	require.NoError(t, err)
	_, err = store.AddBalance(context.Background(), "holder-two", 5)
	require.NoError(t, err)
	_, err = store.AddBalance(context.Background(), "holder-one", -2)
	require.NoError(t, err)

	supply, err := store.TotalSupply(context.Background())
	require.NoError(t, err)
	require.Equal(t, Amount(10), supply)
}

func TestGormStoreTransactionRollback(t *testing.T) {
	t.Parallel()
	store := newGormTestStore(t)
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

func TestGormStoreServiceFlow(t *testing.T) {
	t.Parallel()
	store := newGormTestStore(t)
	service, err := NewService(store)
	require.NoError(t, err)

	require.NoError(t, service.Mint(context.Background(), holderAlice, 12))
	require.NoError(t, service.Burn(context.Background(), holderAlice, 5))
	require.ErrorIs(t, service.Burn(context.Background(), holderAlice, 50), ErrInsufficientBalance)

	wallet, err := service.WalletOf(context.Background(), holderAlice)
	require.NoError(t, err)
	require.Equal(t, Amount(7), wallet.Balance)
	require.Equal(t, Amount(7), wallet.TotalSupply)
}
