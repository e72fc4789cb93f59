package vesting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// UnitCount is a whole number of subscription units locked into a batch.
type UnitCount int64

// CreditAmount is a non-negative quantity of vested credit.
type CreditAmount int64

// SubscriberID identifies the external owner of a vesting account.
type SubscriberID struct {
	value string
}

// AccountID identifies a vesting account inside the store.
type AccountID struct {
	value string
}

// BatchID identifies a single activation batch.
type BatchID struct {
	value string
}

// IdempotencyKey scopes duplicate detection for activations.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewUnitCount validates a unit count and ensures it is strictly positive.
func NewUnitCount(raw int64) (UnitCount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnitCount)
	}
	return UnitCount(raw), nil
}

// Int64 returns the raw unit count.
func (units UnitCount) Int64() int64 {
	return int64(units)
}

// NewCreditAmount validates a credit amount and ensures it is non-negative.
func NewCreditAmount(raw int64) (CreditAmount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCreditAmount)
	}
	return CreditAmount(raw), nil
}

// Int64 returns the raw credit amount.
func (credits CreditAmount) Int64() int64 {
	return int64(credits)
}

// NewSubscriberID validates and normalizes a subscriber id.
func NewSubscriberID(raw string) (SubscriberID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SubscriberID{}, fmt.Errorf("%w: empty value", ErrInvalidSubscriberID)
	}
	return SubscriberID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id SubscriberID) String() string {
	return id.value
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewBatchID validates and normalizes a batch id.
func NewBatchID(raw string) (BatchID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BatchID{}, fmt.Errorf("%w: empty value", ErrInvalidBatchID)
	}
	return BatchID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BatchID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// BatchInput carries a validated activation batch prior to insertion.
type BatchInput struct {
	accountID          AccountID
	units              UnitCount
	idempotencyKey     IdempotencyKey
	metadata           MetadataJSON
	purchasedAtUnixUTC int64
}

// NewBatchInput validates the fields of a batch about to be appended.
func NewBatchInput(accountID AccountID, units UnitCount, idempotencyKey IdempotencyKey, metadata MetadataJSON, purchasedAtUnixUTC int64) (BatchInput, error) {
	if accountID.value == "" {
		return BatchInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if units <= 0 {
		return BatchInput{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnitCount)
	}
	if idempotencyKey.value == "" {
		return BatchInput{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if purchasedAtUnixUTC <= 0 {
		return BatchInput{}, fmt.Errorf("%w: must be positive unix seconds", ErrInvalidPurchaseTime)
	}
	return BatchInput{
		accountID:          accountID,
		units:              units,
		idempotencyKey:     idempotencyKey,
		metadata:           metadata,
		purchasedAtUnixUTC: purchasedAtUnixUTC,
	}, nil
}

// AccountID returns the owning account.
func (input BatchInput) AccountID() AccountID {
	return input.accountID
}

// Units returns the number of units locked into the batch.
func (input BatchInput) Units() UnitCount {
	return input.units
}

// IdempotencyKey returns the duplicate-detection key.
func (input BatchInput) IdempotencyKey() IdempotencyKey {
	return input.idempotencyKey
}

// MetadataJSON returns the request metadata.
func (input BatchInput) MetadataJSON() MetadataJSON {
	return input.metadata
}

// PurchasedAtUnixUTC returns the activation timestamp.
func (input BatchInput) PurchasedAtUnixUTC() int64 {
	return input.purchasedAtUnixUTC
}

// Batch is a stored activation batch. Batches are append-only: once
// written, the units and purchase timestamp never change.
type Batch struct {
	batchID            BatchID
	accountID          AccountID
	units              UnitCount
	idempotencyKey     IdempotencyKey
	metadata           MetadataJSON
	purchasedAtUnixUTC int64
}

// NewBatch validates and assembles a stored batch record.
func NewBatch(batchID BatchID, accountID AccountID, units UnitCount, idempotencyKey IdempotencyKey, metadata MetadataJSON, purchasedAtUnixUTC int64) (Batch, error) {
	if batchID.value == "" {
		return Batch{}, fmt.Errorf("%w: empty value", ErrInvalidBatchID)
	}
	if accountID.value == "" {
		return Batch{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if units <= 0 {
		return Batch{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidUnitCount)
	}
	if purchasedAtUnixUTC <= 0 {
		return Batch{}, fmt.Errorf("%w: must be positive unix seconds", ErrInvalidPurchaseTime)
	}
	return Batch{
		batchID:            batchID,
		accountID:          accountID,
		units:              units,
		idempotencyKey:     idempotencyKey,
		metadata:           metadata,
		purchasedAtUnixUTC: purchasedAtUnixUTC,
	}, nil
}

// BatchID returns the batch identifier.
func (batch Batch) BatchID() BatchID {
	return batch.batchID
}

// AccountID returns the owning account.
func (batch Batch) AccountID() AccountID {
	return batch.accountID
}

// Units returns the number of units locked into the batch.
func (batch Batch) Units() UnitCount {
	return batch.units
}

// IdempotencyKey returns the duplicate-detection key.
func (batch Batch) IdempotencyKey() IdempotencyKey {
	return batch.idempotencyKey
}

// MetadataJSON returns the request metadata.
func (batch Batch) MetadataJSON() MetadataJSON {
	return batch.metadata
}

// PurchasedAtUnixUTC returns the activation timestamp.
func (batch Batch) PurchasedAtUnixUTC() int64 {
	return batch.purchasedAtUnixUTC
}

// Entitlement is the credit view for an account at a point in time.
type Entitlement struct {
	ProducedCredits  CreditAmount
	ClaimedCredits   CreditAmount
	ClaimableCredits CreditAmount
}

// Store is the persistence contract used by Service.
//
// Implementations keep one ordered batch sequence and one claimed
// counter per account. WithTx must not let two writers commit against
// the same account state: either the account is held for the duration
// of the transaction or the later advance fails with ErrStaleClaim.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountID(ctx context.Context, subscriberID SubscriberID) (AccountID, error)
	FindAccountID(ctx context.Context, subscriberID SubscriberID) (AccountID, bool, error)
	AppendBatch(ctx context.Context, batchInput BatchInput) (Batch, error)
	ListBatches(ctx context.Context, accountID AccountID) ([]Batch, error)
	ClaimedCredits(ctx context.Context, accountID AccountID) (CreditAmount, error)
	AdvanceClaimedCredits(ctx context.Context, accountID AccountID, from CreditAmount, to CreditAmount) error
}
