package vesting

import (
	"context"
	"errors"
	"math"
	"testing"
)

const (
	subscriberIDValue      = "subscriber-1"
	errStoreMessage        = "store error"
	caseAccountLookupError = "account lookup error"
	caseAccountFindError   = "account find error"
	caseAppendBatchError   = "append batch error"
	caseListBatchesError   = "list batches error"
	caseClaimedReadError   = "claimed read error"
	caseAdvanceError       = "advance claimed error"
	caseStaleClaim         = "stale claimed counter"
	errorMismatchMessage   = "expected %v, got %v"
)

var errStoreFailure = errors.New(errStoreMessage)

func TestActivateReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(test *testing.T, store *stubStore)
		wantErr   error
	}{
		{
			name: caseAccountLookupError,
			configure: func(test *testing.T, store *stubStore) {
				store.getAccountError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseAppendBatchError,
			configure: func(test *testing.T, store *stubStore) {
				store.appendBatchError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(test, store)
			clock := newStubClock(activationUnixUTC)
			service := mustNewService(test, store, clock)
			subscriberID := mustSubscriberID(test, subscriberIDValue)
			idempotencyKey := mustIdempotencyKey(test, "activate-err")
			metadata := mustMetadata(test, "{}")

			_, err := service.Activate(context.Background(), subscriberID, mustUnitCount(test, 1), idempotencyKey, metadata)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}

func TestEntitlementReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(test *testing.T, store *stubStore)
		wantErr   error
	}{
		{
			name: caseAccountFindError,
			configure: func(test *testing.T, store *stubStore) {
				store.findAccountError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseClaimedReadError,
			configure: func(test *testing.T, store *stubStore) {
				store.claimedError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseListBatchesError,
			configure: func(test *testing.T, store *stubStore) {
				store.listBatchesError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.hasAccount = true
			testCase.configure(test, store)
			clock := newStubClock(activationUnixUTC)
			service := mustNewService(test, store, clock)
			subscriberID := mustSubscriberID(test, subscriberIDValue)

			_, err := service.Entitlement(context.Background(), subscriberID)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}

func TestClaimReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(test *testing.T, store *stubStore)
		wantErr   error
	}{
		{
			name: caseAccountFindError,
			configure: func(test *testing.T, store *stubStore) {
				store.findAccountError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseClaimedReadError,
			configure: func(test *testing.T, store *stubStore) {
				store.claimedError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseListBatchesError,
			configure: func(test *testing.T, store *stubStore) {
				store.listBatchesError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseAdvanceError,
			configure: func(test *testing.T, store *stubStore) {
				store.advanceError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseStaleClaim,
			configure: func(test *testing.T, store *stubStore) {
				store.advanceError = ErrStaleClaim
			},
			wantErr: ErrStaleClaim,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.hasAccount = true
			store.batches = []Batch{mustBatch(test, "batch-err", store.accountID, mustUnitCount(test, 1), activationUnixUTC)}
			testCase.configure(test, store)
			clock := newStubClock(activationUnixUTC + SecondsPerPeriod)
			service := mustNewService(test, store, clock)
			subscriberID := mustSubscriberID(test, subscriberIDValue)

			_, err := service.Claim(context.Background(), subscriberID)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}

func TestClaimedAboveProducedFailsLoudly(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.hasAccount = true
	store.batches = []Batch{mustBatch(test, "batch-over", store.accountID, mustUnitCount(test, 1), activationUnixUTC)}
	store.claimed = mustCreditAmount(test, 500)
	clock := newStubClock(activationUnixUTC)
	service := mustNewService(test, store, clock)
	subscriberID := mustSubscriberID(test, subscriberIDValue)

	if _, err := service.Entitlement(context.Background(), subscriberID); !errors.Is(err, ErrClaimedExceedsProduced) {
		test.Fatalf(errorMismatchMessage, ErrClaimedExceedsProduced, err)
	}
	if _, err := service.Claim(context.Background(), subscriberID); !errors.Is(err, ErrClaimedExceedsProduced) {
		test.Fatalf(errorMismatchMessage, ErrClaimedExceedsProduced, err)
	}
	if store.claimed != 500 {
		test.Fatalf("expected claimed counter untouched, got %d", store.claimed)
	}
}

func TestCreditOverflowPropagates(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.hasAccount = true
	hugeUnits := mustUnitCount(test, math.MaxInt64/2)
	store.batches = []Batch{mustBatch(test, "batch-huge", store.accountID, hugeUnits, activationUnixUTC)}
	clock := newStubClock(activationUnixUTC + PeriodCap*SecondsPerPeriod)
	service := mustNewService(test, store, clock)
	subscriberID := mustSubscriberID(test, subscriberIDValue)

	if _, err := service.Entitlement(context.Background(), subscriberID); !errors.Is(err, ErrCreditOverflow) {
		test.Fatalf(errorMismatchMessage, ErrCreditOverflow, err)
	}
	if _, err := service.Claim(context.Background(), subscriberID); !errors.Is(err, ErrCreditOverflow) {
		test.Fatalf(errorMismatchMessage, ErrCreditOverflow, err)
	}
	if store.claimed != 0 {
		test.Fatalf("expected claimed counter untouched, got %d", store.claimed)
	}
}

func TestBatchesReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(test *testing.T, store *stubStore)
		wantErr   error
	}{
		{
			name: caseAccountFindError,
			configure: func(test *testing.T, store *stubStore) {
				store.findAccountError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
		{
			name: caseListBatchesError,
			configure: func(test *testing.T, store *stubStore) {
				store.hasAccount = true
				store.listBatchesError = errStoreFailure
			},
			wantErr: errStoreFailure,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(test, store)
			clock := newStubClock(activationUnixUTC)
			service := mustNewService(test, store, clock)
			subscriberID := mustSubscriberID(test, subscriberIDValue)

			_, err := service.Batches(context.Background(), subscriberID)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
			}
		})
	}
}
