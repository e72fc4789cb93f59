package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/clearledger/sponsorvest/pkg/vesting"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintBatchIdempotencyKey = "uniq_batches_account_key"
	defaultMetadataJSON           = "{}"
	pgUniqueViolationCode         = "23505"
	sqliteConstraintCode          = 19
	errorOperationStore           = "store"
	errorSubjectAccount           = "account"
	errorSubjectBatch             = "batch"
	errorSubjectClaim             = "claim"
	errorCodeAdvance              = "advance"
	errorCodeDuplicate            = "duplicate"
	errorCodeGet                  = "get"
	errorCodeInsert               = "insert"
	errorCodeInvalid              = "invalid"
	errorCodeList                 = "list"
	errorCodeLookup               = "lookup"
	errorCodeStale                = "stale"
	errorCodeUnknown              = "unknown"
)

// Store implements vesting.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the vesting tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &VestingBatch{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vesting.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subscriber_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"subscriber_id": clause.Expr{SQL: "excluded.subscriber_id"},
			}),
		}).
		FirstOrCreate(&account, Account{SubscriberID: subscriberID.String()}).Error
	if err != nil {
		return vesting.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := vesting.NewAccountID(account.AccountID)
	if err != nil {
		return vesting.AccountID{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, nil
}

func (store *Store) FindAccountID(ctx context.Context, subscriberID vesting.SubscriberID) (vesting.AccountID, bool, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID.String()).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return vesting.AccountID{}, false, nil
	}
	if err != nil {
		return vesting.AccountID{}, false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	accountID, err := vesting.NewAccountID(account.AccountID)
	if err != nil {
		return vesting.AccountID{}, false, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return accountID, true, nil
}

func (store *Store) AppendBatch(ctx context.Context, batchInput vesting.BatchInput) (vesting.Batch, error) {
	row := VestingBatch{
		AccountID:      batchInput.AccountID().String(),
		Units:          batchInput.Units().Int64(),
		IdempotencyKey: batchInput.IdempotencyKey().String(),
		Metadata:       datatypesJSON(batchInput.MetadataJSON().String()),
		PurchasedAt:    time.Unix(batchInput.PurchasedAtUnixUTC(), 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isIdempotencyConflict(err) {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeDuplicate, vesting.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInsert, err)
	}
	batch, err := mapBatch(row)
	if err != nil {
		return vesting.Batch{}, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
	}
	return batch, nil
}

func (store *Store) ListBatches(ctx context.Context, accountID vesting.AccountID) ([]vesting.Batch, error) {
	var rows []VestingBatch
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("purchased_at ASC, created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}

	batches := make([]vesting.Batch, 0, len(rows))
	for _, row := range rows {
		batch, err := mapBatch(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// ClaimedCredits reads the claimed counter without locking the row.
// AdvanceClaimedCredits compares against the value read here, so a
// concurrent advance surfaces as ErrStaleClaim instead of a lost
// update. SQLite has no FOR UPDATE, which rules out a row lock.
func (store *Store) ClaimedCredits(ctx context.Context, accountID vesting.AccountID) (vesting.CreditAmount, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, wrapStoreError(errorSubjectClaim, errorCodeUnknown, vesting.ErrUnknownAccount)
		}
		return 0, wrapStoreError(errorSubjectClaim, errorCodeGet, err)
	}
	claimed, err := vesting.NewCreditAmount(account.ClaimedCredits)
	if err != nil {
		return 0, wrapStoreError(errorSubjectClaim, errorCodeInvalid, err)
	}
	return claimed, nil
}

func (store *Store) AdvanceClaimedCredits(ctx context.Context, accountID vesting.AccountID, from, to vesting.CreditAmount) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND claimed_credits = ?", accountID.String(), from.Int64()).
		Update("claimed_credits", to.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectClaim, errorCodeAdvance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectClaim, errorCodeStale, vesting.ErrStaleClaim)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return vesting.WrapError(errorOperationStore, subject, code, err)
}

func mapBatch(row VestingBatch) (vesting.Batch, error) {
	batchID, err := vesting.NewBatchID(row.BatchID)
	if err != nil {
		return vesting.Batch{}, err
	}
	accountID, err := vesting.NewAccountID(row.AccountID)
	if err != nil {
		return vesting.Batch{}, err
	}
	units, err := vesting.NewUnitCount(row.Units)
	if err != nil {
		return vesting.Batch{}, err
	}
	idempotencyKey, err := vesting.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return vesting.Batch{}, err
	}
	metadata, err := vesting.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return vesting.Batch{}, err
	}
	return vesting.NewBatch(batchID, accountID, units, idempotencyKey, metadata, row.PurchasedAt.Unix())
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintBatchIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
