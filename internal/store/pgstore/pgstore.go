package pgstore

import (
	"context"
	"errors"

	"github.com/clearledger/sponsorvest/pkg/vesting"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintBatchIdempotencyKey = "vesting_batches_account_id_idempotency_key_key"
	pgUniqueViolationCode         = "23505"
	errorOperationStore           = "store"
	errorSubjectAccount           = "account"
	errorSubjectBatch             = "batch"
	errorSubjectClaim             = "claim"
	errorSubjectSchema            = "schema"
	errorSubjectTransaction       = "transaction"
	errorCodeAdvance              = "advance"
	errorCodeApply                = "apply"
	errorCodeBegin                = "begin"
	errorCodeCommit               = "commit"
	errorCodeDuplicate            = "duplicate"
	errorCodeGet                  = "get"
	errorCodeInsert               = "insert"
	errorCodeInvalid              = "invalid"
	errorCodeList                 = "list"
	errorCodeLookup               = "lookup"
	errorCodeStale                = "stale"
	errorCodeUnknown              = "unknown"

	sqlSchema = `
		create table if not exists vesting_accounts (
			account_id uuid primary key default gen_random_uuid(),
			subscriber_id text not null unique,
			claimed_credits bigint not null default 0,
			created_at timestamptz not null default now()
		);
		create table if not exists vesting_batches (
			batch_id uuid primary key,
			account_id uuid not null references vesting_accounts(account_id),
			units bigint not null check (units > 0),
			idempotency_key text not null,
			metadata jsonb not null default '{}'::jsonb,
			purchased_at timestamptz not null,
			created_at timestamptz not null default now(),
			unique (account_id, idempotency_key)
		);
		create index if not exists idx_batches_account_purchased
			on vesting_batches(account_id, purchased_at);
	`

	sqlInsertOrGetAccount = `
		insert into vesting_accounts(subscriber_id) values($1)
		on conflict (subscriber_id) do update set subscriber_id = excluded.subscriber_id
		returning account_id::text
	`

	sqlSelectAccountID = `
		select account_id::text from vesting_accounts where subscriber_id = $1
	`

	sqlInsertBatch = `
		insert into vesting_batches(
			batch_id, account_id, units, idempotency_key, metadata, purchased_at
		)
		values(
			gen_random_uuid(), $1, $2, $3,
			coalesce(nullif($4,''),'{}')::jsonb,
			to_timestamp($5)
		)
		returning batch_id::text
	`

	sqlListBatches = `
		select
			batch_id::text,
			account_id::text,
			units,
			idempotency_key,
			coalesce(metadata::text,'{}'),
			extract(epoch from purchased_at)::bigint
		from vesting_batches
		where account_id = $1
		order by purchased_at asc, created_at asc
	`

	sqlSelectClaimedForUpdate = `
		select claimed_credits from vesting_accounts
		where account_id = $1
		for update
	`

	sqlAdvanceClaimed = `
		update vesting_accounts
		set claimed_credits = $3
		where account_id = $1 and claimed_credits = $2
	`
)

// Store implements vesting.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements vesting.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the vesting tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, sqlSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vesting.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, error) {
	return getOrCreateAccountID(ctx, store.pool, subscriberID)
}

func (store *Store) FindAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, bool, error) {
	return findAccountID(ctx, store.pool, subscriberID)
}

func (store *Store) AppendBatch(ctx context.Context, batchInput vesting.BatchInput) (vesting.Batch, error) {
	return appendBatch(ctx, store.pool, batchInput)
}

func (store *Store) ListBatches(ctx context.Context, accountID vesting.AccountID) ([]vesting.Batch, error) {
	return listBatches(ctx, store.pool, accountID)
}

func (store *Store) ClaimedCredits(ctx context.Context, accountID vesting.AccountID) (vesting.CreditAmount, error) {
	return claimedCredits(ctx, store.pool, accountID)
}

func (store *Store) AdvanceClaimedCredits(ctx context.Context, accountID vesting.AccountID, from, to vesting.CreditAmount) error {
	return advanceClaimedCredits(ctx, store.pool, accountID, from, to)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vesting.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) GetOrCreateAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, error) {
	return getOrCreateAccountID(ctx, store.tx, subscriberID)
}

func (store *TxStore) FindAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, bool, error) {
	return findAccountID(ctx, store.tx, subscriberID)
}

func (store *TxStore) AppendBatch(ctx context.Context, batchInput vesting.BatchInput) (vesting.Batch, error) {
	return appendBatch(ctx, store.tx, batchInput)
}

func (store *TxStore) ListBatches(ctx context.Context, accountID vesting.AccountID) ([]vesting.Batch, error) {
	return listBatches(ctx, store.tx, accountID)
}

func (store *TxStore) ClaimedCredits(ctx context.Context, accountID vesting.AccountID) (vesting.CreditAmount, error) {
	return claimedCredits(ctx, store.tx, accountID)
}

func (store *TxStore) AdvanceClaimedCredits(ctx context.Context, accountID vesting.AccountID, from, to vesting.CreditAmount) error {
	return advanceClaimedCredits(ctx, store.tx, accountID, from, to)
}

// querier is the subset of pgxpool.Pool and pgx.Tx the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrCreateAccountID(ctx context.Context, runner querier, subscriberID vesting.SubscriberID) (vesting.AccountID, error) {
	var accountIDValue string
	err := runner.QueryRow(ctx, sqlInsertOrGetAccount, subscriberID.String()).Scan(&accountIDValue)
	if err != nil {
		return vesting.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := vesting.NewAccountID(accountIDValue)
	if err != nil {
		return vesting.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, nil
}

func findAccountID(ctx context.Context, runner querier, subscriberID vesting.SubscriberID) (vesting.AccountID, bool, error) {
	var accountIDValue string
	err := runner.QueryRow(ctx, sqlSelectAccountID, subscriberID.String()).Scan(&accountIDValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return vesting.AccountID{}, false, nil
	}
	if err != nil {
		return vesting.AccountID{}, false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := vesting.NewAccountID(accountIDValue)
	if err != nil {
		return vesting.AccountID{}, false, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, true, nil
}

func appendBatch(ctx context.Context, runner querier, batchInput vesting.BatchInput) (vesting.Batch, error) {
	var batchIDValue string
	err := runner.QueryRow(ctx, sqlInsertBatch,
		batchInput.AccountID().String(),
		batchInput.Units().Int64(),
		batchInput.IdempotencyKey().String(),
		batchInput.MetadataJSON().String(),
		batchInput.PurchasedAtUnixUTC(),
	).Scan(&batchIDValue)
	if isIdempotencyConflict(err) {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeDuplicate, vesting.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInsert, err)
	}
	batchID, err := vesting.NewBatchID(batchIDValue)
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
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
	}
	return batch, nil
}

func listBatches(ctx context.Context, runner querier, accountID vesting.AccountID) ([]vesting.Batch, error) {
	rows, err := runner.Query(ctx, sqlListBatches, accountID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	defer rows.Close()
	batches, err := scanBatches(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
	}
	return batches, nil
}

func claimedCredits(ctx context.Context, runner querier, accountID vesting.AccountID) (vesting.CreditAmount, error) {
	var claimedValue int64
	err := runner.QueryRow(ctx, sqlSelectClaimedForUpdate, accountID.String()).Scan(&claimedValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, wrapStoreError(errorSubjectClaim, errorCodeUnknown, vesting.ErrUnknownAccount)
		}
		return 0, wrapStoreError(errorSubjectClaim, errorCodeGet, err)
	}
	claimed, err := vesting.NewCreditAmount(claimedValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectClaim, errorCodeInvalid, err)
	}
	return claimed, nil
}

func advanceClaimedCredits(ctx context.Context, runner querier, accountID vesting.AccountID, from, to vesting.CreditAmount) error {
	tag, err := runner.Exec(ctx, sqlAdvanceClaimed, accountID.String(), from.Int64(), to.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectClaim, errorCodeAdvance, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectClaim, errorCodeStale, vesting.ErrStaleClaim)
	}
	return nil
}

func scanBatches(rows pgx.Rows) ([]vesting.Batch, error) {
	batches := make([]vesting.Batch, 0, 16)
	for rows.Next() {
		var (
			batchIDValue       string
			accountIDValue     string
			unitsValue         int64
			idempotencyValue   string
			metadataValue      string
			purchasedAtUnixUTC int64
		)
		if err := rows.Scan(
			&batchIDValue,
			&accountIDValue,
			&unitsValue,
			&idempotencyValue,
			&metadataValue,
			&purchasedAtUnixUTC,
		); err != nil {
			return nil, err
		}
		batchID, err := vesting.NewBatchID(batchIDValue)
		if err != nil {
			return nil, err
		}
		accountID, err := vesting.NewAccountID(accountIDValue)
		if err != nil {
			return nil, err
		}
		units, err := vesting.NewUnitCount(unitsValue)
		if err != nil {
			return nil, err
		}
		idempotencyKey, err := vesting.NewIdempotencyKey(idempotencyValue)
		if err != nil {
			return nil, err
		}
		metadata, err := vesting.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		batch, err := vesting.NewBatch(batchID, accountID, units, idempotencyKey, metadata, purchasedAtUnixUTC)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return vesting.WrapError(errorOperationStore, subject, code, err)
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintBatchIdempotencyKey
	}
	return false
}
