package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/clearledger/sponsorvest/pkg/vesting"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testNowUnixUTC int64 = 1_700_000_000

func TestGetOrCreateAccountIDIsStable(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	subscriberID := mustSubscriber(t, "subscriber-stable")

	first, err := store.GetOrCreateAccountID(context.Background(), subscriberID)
	require.NoError(t, err)
	second, err := store.GetOrCreateAccountID(context.Background(), subscriberID)
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := store.GetOrCreateAccountID(context.Background(), mustSubscriber(t, "subscriber-other"))
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestFindAccountIDUnknownSubscriber(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, found, err := store.FindAccountID(context.Background(), mustSubscriber(t, "subscriber-missing"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestAppendBatchRejectsDuplicateKey(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	accountID := mustCreateAccount(t, store, "subscriber-dup")

	_, err := store.AppendBatch(context.Background(), mustBatchInput(t, accountID, 2, "dup-1"))
	require.NoError(t, err)
	_, err = store.AppendBatch(context.Background(), mustBatchInput(t, accountID, 2, "dup-1"))
	require.ErrorIs(t, err, vesting.ErrDuplicateIdempotencyKey)

	batches, err := store.ListBatches(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestSameKeyOnDifferentAccounts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	firstAccount := mustCreateAccount(t, store, "subscriber-key-a")
	secondAccount := mustCreateAccount(t, store, "subscriber-key-b")

	_, err := store.AppendBatch(context.Background(), mustBatchInput(t, firstAccount, 1, "shared-key"))
	require.NoError(t, err)
	_, err = store.AppendBatch(context.Background(), mustBatchInput(t, secondAccount, 1, "shared-key"))
	require.NoError(t, err, "the key is scoped per account")
}

func TestListBatchesOrdersByPurchaseTime(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	accountID := mustCreateAccount(t, store, "subscriber-order")

	later, err := vesting.NewBatchInput(accountID, mustUnits(t, 2), mustKey(t, "order-later"), vesting.MetadataJSON{}, testNowUnixUTC+3600)
	require.NoError(t, err)
	earlier, err := vesting.NewBatchInput(accountID, mustUnits(t, 1), mustKey(t, "order-earlier"), vesting.MetadataJSON{}, testNowUnixUTC)
	require.NoError(t, err)

	_, err = store.AppendBatch(context.Background(), later)
	require.NoError(t, err)
	_, err = store.AppendBatch(context.Background(), earlier)
	require.NoError(t, err)

	batches, err := store.ListBatches(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, testNowUnixUTC, batches[0].PurchasedAtUnixUTC())
	require.Equal(t, testNowUnixUTC+3600, batches[1].PurchasedAtUnixUTC())
}

func TestMetadataRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	accountID := mustCreateAccount(t, store, "subscriber-meta")

	metadata, err := vesting.NewMetadataJSON(`{"plan":"gold","seats":3}`)
	require.NoError(t, err)
	input, err := vesting.NewBatchInput(accountID, mustUnits(t, 1), mustKey(t, "meta-1"), metadata, testNowUnixUTC)
	require.NoError(t, err)
	_, err = store.AppendBatch(context.Background(), input)
	require.NoError(t, err)

	batches, err := store.ListBatches(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.JSONEq(t, `{"plan":"gold","seats":3}`, batches[0].MetadataJSON().String())
}

func TestClaimedCreditsUnknownAccount(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	accountID, err := vesting.NewAccountID("00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)

	_, err = store.ClaimedCredits(context.Background(), accountID)
	require.ErrorIs(t, err, vesting.ErrUnknownAccount)
}

func TestAdvanceClaimedCreditsGuardsStaleCounter(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	accountID := mustCreateAccount(t, store, "subscriber-stale")

	require.NoError(t, store.AdvanceClaimedCredits(context.Background(), accountID, 0, 5))
	err := store.AdvanceClaimedCredits(context.Background(), accountID, 0, 9)
	require.ErrorIs(t, err, vesting.ErrStaleClaim)

	claimed, err := store.ClaimedCredits(context.Background(), accountID)
	require.NoError(t, err)
	require.Equal(t, vesting.CreditAmount(5), claimed)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	subscriberID := mustSubscriber(t, "subscriber-rollback")
	rollbackErr := errors.New("abort")

	err := store.WithTx(context.Background(), func(ctx context.Context, txStore vesting.Store) error {
		accountID, err := txStore.GetOrCreateAccountID(ctx, subscriberID)
		if err != nil {
			return err
		}
		if _, err := txStore.AppendBatch(ctx, mustBatchInput(t, accountID, 1, "rollback-1")); err != nil {
			return err
		}
		return rollbackErr
	})
	require.ErrorIs(t, err, rollbackErr)

	_, found, err := store.FindAccountID(context.Background(), subscriberID)
	require.NoError(t, err)
	require.False(t, found, "aborted transaction must not create the account")
}

func TestServiceFlowOverGorm(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	nowUnixUTC := testNowUnixUTC
	service, err := vesting.NewService(store, func() int64 { return nowUnixUTC })
	require.NoError(t, err)
	subscriberID := mustSubscriber(t, "subscriber-flow")

	batch, err := service.Activate(context.Background(), subscriberID, 4, mustKey(t, "flow-1"), vesting.MetadataJSON{})
	require.NoError(t, err)
	require.Equal(t, testNowUnixUTC, batch.PurchasedAtUnixUTC())

	view, err := service.Entitlement(context.Background(), subscriberID)
	require.NoError(t, err)
	require.Equal(t, vesting.CreditAmount(4), view.ProducedCredits)
	require.Equal(t, vesting.CreditAmount(4), view.ClaimableCredits)

	claimed, err := service.Claim(context.Background(), subscriberID)
	require.NoError(t, err)
	require.Equal(t, vesting.CreditAmount(4), claimed)

	_, err = service.Claim(context.Background(), subscriberID)
	require.ErrorIs(t, err, vesting.ErrNoClaimableCredit)

	nowUnixUTC += vesting.SecondsPerPeriod
	claimed, err = service.Claim(context.Background(), subscriberID)
	require.NoError(t, err)
	require.Equal(t, vesting.CreditAmount(4), claimed)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/vesting.db"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return New(db)
}

func mustSubscriber(t *testing.T, raw string) vesting.SubscriberID {
	t.Helper()
	subscriberID, err := vesting.NewSubscriberID(raw)
	require.NoError(t, err)
	return subscriberID
}

func mustKey(t *testing.T, raw string) vesting.IdempotencyKey {
	t.Helper()
	key, err := vesting.NewIdempotencyKey(raw)
	require.NoError(t, err)
	return key
}

func mustUnits(t *testing.T, raw int64) vesting.UnitCount {
	t.Helper()
	units, err := vesting.NewUnitCount(raw)
	require.NoError(t, err)
	return units
}

func mustBatchInput(t *testing.T, accountID vesting.AccountID, units int64, rawKey string) vesting.BatchInput {
	t.Helper()
	input, err := vesting.NewBatchInput(accountID, mustUnits(t, units), mustKey(t, rawKey), vesting.MetadataJSON{}, testNowUnixUTC)
	require.NoError(t, err)
	return input
}

func mustCreateAccount(t *testing.T, store *Store, rawSubscriber string) vesting.AccountID {
	t.Helper()
	accountID, err := store.GetOrCreateAccountID(context.Background(), mustSubscriber(t, rawSubscriber))
	require.NoError(t, err)
	return accountID
}
