package memstore

import (
	"context"
	"sync"

	"github.com/clearledger/sponsorvest/pkg/vesting"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

const (
	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorSubjectBatch   = "batch"
	errorSubjectClaim   = "claim"
	errorCodeDuplicate  = "duplicate"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeStale      = "stale"
	errorCodeUnknown    = "unknown"
)

// account holds the committed state of one vesting account.
type account struct {
	accountID   vesting.AccountID
	batches     []vesting.Batch
	claimed     vesting.CreditAmount
	idempotency map[string]struct{}
}

func (acct *account) clone() *account {
	copied := &account{
		accountID:   acct.accountID,
		batches:     append([]vesting.Batch(nil), acct.batches...),
		claimed:     acct.claimed,
		idempotency: make(map[string]struct{}, len(acct.idempotency)),
	}
	for key := range acct.idempotency {
		copied.idempotency[key] = struct{}{}
	}
	return copied
}

// Store implements vesting.Store in process memory. Account records
// live in concurrent maps; transactions run under a store-wide writer
// lock and buffer their writes, so a failed closure leaves nothing
// behind.
type Store struct {
	txMutex  sync.RWMutex
	accounts *xsync.Map[string, *account]
	index    *xsync.Map[string, string]
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: xsync.NewMap[string, *account](),
		index:    xsync.NewMap[string, string](),
	}
}

// WithTx runs fn against a buffered view of the store and commits the
// buffered writes only when fn succeeds. Transactions are serialized.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vesting.Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	transaction := &txStore{
		store:        store,
		pending:      make(map[string]*account),
		pendingIndex: make(map[string]string),
	}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	transaction.commit()
	return nil
}

func (store *Store) GetOrCreateAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, error) {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	if accountIDValue, ok := store.index.Load(subscriberID.String()); ok {
		acct, ok := store.accounts.Load(accountIDValue)
		if !ok {
			return vesting.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeUnknown, vesting.ErrUnknownAccount)
		}
		return acct.accountID, nil
	}
	acct, err := newAccount()
	if err != nil {
		return vesting.AccountID{}, err
	}
	store.accounts.Store(acct.accountID.String(), acct)
	store.index.Store(subscriberID.String(), acct.accountID.String())
	return acct.accountID, nil
}

func (store *Store) FindAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, bool, error) {
	store.txMutex.RLock()
	defer store.txMutex.RUnlock()
	return store.findCommitted(subscriberID)
}

func (store *Store) AppendBatch(ctx context.Context, batchInput vesting.BatchInput) (vesting.Batch, error) {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	acct, ok := store.accounts.Load(batchInput.AccountID().String())
	if !ok {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeUnknown, vesting.ErrUnknownAccount)
	}
	return appendBatch(acct, batchInput)
}

func (store *Store) ListBatches(ctx context.Context, accountID vesting.AccountID) ([]vesting.Batch, error) {
	store.txMutex.RLock()
	defer store.txMutex.RUnlock()
	acct, ok := store.accounts.Load(accountID.String())
	if !ok {
		return []vesting.Batch{}, nil
	}
	return append([]vesting.Batch(nil), acct.batches...), nil
}

func (store *Store) ClaimedCredits(ctx context.Context, accountID vesting.AccountID) (vesting.CreditAmount, error) {
	store.txMutex.RLock()
	defer store.txMutex.RUnlock()
	acct, ok := store.accounts.Load(accountID.String())
	if !ok {
		return 0, wrapStoreError(errorSubjectClaim, errorCodeUnknown, vesting.ErrUnknownAccount)
	}
	return acct.claimed, nil
}

func (store *Store) AdvanceClaimedCredits(ctx context.Context, accountID vesting.AccountID, from vesting.CreditAmount, to vesting.CreditAmount) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	acct, ok := store.accounts.Load(accountID.String())
	if !ok {
		return wrapStoreError(errorSubjectClaim, errorCodeUnknown, vesting.ErrUnknownAccount)
	}
	return advanceClaimed(acct, from, to)
}

func (store *Store) findCommitted(subscriberID vesting.SubscriberID) (vesting.AccountID, bool, error) {
	accountIDValue, ok := store.index.Load(subscriberID.String())
	if !ok {
		return vesting.AccountID{}, false, nil
	}
	acct, ok := store.accounts.Load(accountIDValue)
	if !ok {
		return vesting.AccountID{}, false, wrapStoreError(errorSubjectAccount, errorCodeUnknown, vesting.ErrUnknownAccount)
	}
	return acct.accountID, true, nil
}

// txStore is the in-transaction view. Reads prefer buffered state;
// writes clone the committed record into the buffer first.
type txStore struct {
	store        *Store
	pending      map[string]*account
	pendingIndex map[string]string
}

func (transaction *txStore) commit() {
	for subscriberValue, accountIDValue := range transaction.pendingIndex {
		transaction.store.index.Store(subscriberValue, accountIDValue)
	}
	for accountIDValue, acct := range transaction.pending {
		transaction.store.accounts.Store(accountIDValue, acct)
	}
}

// WithTx inside a transaction reuses the active transaction.
func (transaction *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vesting.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *txStore) GetOrCreateAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, error) {
	if accountIDValue, ok := transaction.pendingIndex[subscriberID.String()]; ok {
		acct, err := transaction.readable(accountIDValue)
		if err != nil {
			return vesting.AccountID{}, err
		}
		return acct.accountID, nil
	}
	accountID, found, err := transaction.store.findCommitted(subscriberID)
	if err != nil {
		return vesting.AccountID{}, err
	}
	if found {
		return accountID, nil
	}
	acct, err := newAccount()
	if err != nil {
		return vesting.AccountID{}, err
	}
	transaction.pending[acct.accountID.String()] = acct
	transaction.pendingIndex[subscriberID.String()] = acct.accountID.String()
	return acct.accountID, nil
}

func (transaction *txStore) FindAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, bool, error) {
	if accountIDValue, ok := transaction.pendingIndex[subscriberID.String()]; ok {
		acct, err := transaction.readable(accountIDValue)
		if err != nil {
			return vesting.AccountID{}, false, err
		}
		return acct.accountID, true, nil
	}
	return transaction.store.findCommitted(subscriberID)
}

func (transaction *txStore) AppendBatch(ctx context.Context, batchInput vesting.BatchInput) (vesting.Batch, error) {
	acct, err := transaction.writable(batchInput.AccountID())
	if err != nil {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeUnknown, err)
	}
	return appendBatch(acct, batchInput)
}

func (transaction *txStore) ListBatches(ctx context.Context, accountID vesting.AccountID) ([]vesting.Batch, error) {
	acct, ok := transaction.lookup(accountID)
	if !ok {
		return []vesting.Batch{}, nil
	}
	return append([]vesting.Batch(nil), acct.batches...), nil
}

func (transaction *txStore) ClaimedCredits(ctx context.Context, accountID vesting.AccountID) (vesting.CreditAmount, error) {
	acct, ok := transaction.lookup(accountID)
	if !ok {
		return 0, wrapStoreError(errorSubjectClaim, errorCodeUnknown, vesting.ErrUnknownAccount)
	}
	return acct.claimed, nil
}

func (transaction *txStore) AdvanceClaimedCredits(ctx context.Context, accountID vesting.AccountID, from vesting.CreditAmount, to vesting.CreditAmount) error {
	acct, err := transaction.writable(accountID)
	if err != nil {
		return wrapStoreError(errorSubjectClaim, errorCodeUnknown, err)
	}
	return advanceClaimed(acct, from, to)
}

func (transaction *txStore) lookup(accountID vesting.AccountID) (*account, bool) {
	if acct, ok := transaction.pending[accountID.String()]; ok {
		return acct, true
	}
	acct, ok := transaction.store.accounts.Load(accountID.String())
	return acct, ok
}

func (transaction *txStore) readable(accountIDValue string) (*account, error) {
	if acct, ok := transaction.pending[accountIDValue]; ok {
		return acct, nil
	}
	acct, ok := transaction.store.accounts.Load(accountIDValue)
	if !ok {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeUnknown, vesting.ErrUnknownAccount)
	}
	return acct, nil
}

func (transaction *txStore) writable(accountID vesting.AccountID) (*account, error) {
	if acct, ok := transaction.pending[accountID.String()]; ok {
		return acct, nil
	}
	committed, ok := transaction.store.accounts.Load(accountID.String())
	if !ok {
		return nil, vesting.ErrUnknownAccount
	}
	cloned := committed.clone()
	transaction.pending[accountID.String()] = cloned
	return cloned, nil
}

func newAccount() (*account, error) {
	accountID, err := vesting.NewAccountID(uuid.NewString())
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return &account{
		accountID:   accountID,
		idempotency: make(map[string]struct{}),
	}, nil
}

func appendBatch(acct *account, batchInput vesting.BatchInput) (vesting.Batch, error) {
	keyValue := batchInput.IdempotencyKey().String()
	if _, exists := acct.idempotency[keyValue]; exists {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeDuplicate, vesting.ErrDuplicateIdempotencyKey)
	}
	batchID, err := vesting.NewBatchID(uuid.NewString())
	if err != nil {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
	}
	batch, err := vesting.NewBatch(
		batchID,
		batchInput.AccountID(),
		batchInput.Units(),
		batchInput.IdempotencyKey(),
		batchInput.MetadataJSON(),
		batchInput.PurchasedAtUnixUTC(),
	)
	if err != nil {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInsert, err)
	}
	acct.idempotency[keyValue] = struct{}{}
	acct.batches = append(acct.batches, batch)
	return batch, nil
}

func advanceClaimed(acct *account, from vesting.CreditAmount, to vesting.CreditAmount) error {
	if acct.claimed != from {
		return wrapStoreError(errorSubjectClaim, errorCodeStale, vesting.ErrStaleClaim)
	}
	acct.claimed = to
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return vesting.WrapError(errorOperationStore, subject, code, err)
}
