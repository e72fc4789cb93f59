package vesting

import (
	"context"
	"fmt"
)

// Service contains the vesting domain logic over a Store.
//
// Every operation reads the clock exactly once and runs its
// check-then-act sequence inside a single store transaction, so the
// moment of observation and the moment of mutation cannot drift apart.
type Service struct {
	store      Store
	nowFn      func() int64
	logger     OperationLogger
	retirer    UnitRetirer
	authorizer ClaimAuthorizer
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Activate locks units into a new batch that starts vesting at the
// current instant. The configured UnitRetirer runs inside the same
// transaction after the batch is appended: a failed retirement rolls
// the batch back, and a rejected batch never retires units.
func (service *Service) Activate(ctx context.Context, subscriberID SubscriberID, units UnitCount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Batch, error) {
	var batch Batch
	nowUnixUTC := service.nowFn()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if units.Int64() <= 0 {
			return fmt.Errorf("%w: must activate at least one unit", ErrInvalidUnitCount)
		}
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, subscriberID)
		if err != nil {
			return err
		}
		batchInput, err := NewBatchInput(accountID, units, idempotencyKey, metadata, nowUnixUTC)
		if err != nil {
			return err
		}
		stored, err := transactionStore.AppendBatch(ctx, batchInput)
		if err != nil {
			return err
		}
		if service.retirer != nil {
			if err := service.retirer.RetireUnits(ctx, subscriberID, units); err != nil {
				return err
			}
		}
		batch = stored
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:      operationActivate,
		SubscriberID:   subscriberID,
		BatchID:        batch.BatchID(),
		Units:          units,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		Error:          operationError,
	})
	if operationError != nil {
		return Batch{}, operationError
	}
	return batch, nil
}

// Entitlement reports produced, claimed, and claimable credit for a
// subscriber at the current instant. Subscribers without an account
// have a zero entitlement.
func (service *Service) Entitlement(ctx context.Context, subscriberID SubscriberID) (Entitlement, error) {
	var view Entitlement
	nowUnixUTC := service.nowFn()
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, found, err := transactionStore.FindAccountID(ctx, subscriberID)
		if err != nil {
			return err
		}
		if !found {
			view = Entitlement{}
			return nil
		}
		claimed, err := transactionStore.ClaimedCredits(ctx, accountID)
		if err != nil {
			return err
		}
		batches, err := transactionStore.ListBatches(ctx, accountID)
		if err != nil {
			return err
		}
		produced, err := TotalCredit(batches, nowUnixUTC)
		if err != nil {
			return err
		}
		claimable, err := calculateClaimable(produced, claimed)
		if err != nil {
			return err
		}
		view = Entitlement{
			ProducedCredits:  produced,
			ClaimedCredits:   claimed,
			ClaimableCredits: claimable,
		}
		return nil
	})
	if err != nil {
		return Entitlement{}, err
	}
	return view, nil
}

// Claim converts the subscriber's entire claimable credit into an
// issued amount and advances the claimed counter to match. It returns
// the amount the caller must now issue; the counter only ever moves
// forward, so the same credit cannot be claimed twice.
func (service *Service) Claim(ctx context.Context, subscriberID SubscriberID) (CreditAmount, error) {
	if service.authorizer != nil {
		if err := service.authorizer.AuthorizeClaim(ctx, subscriberID); err != nil {
			service.logOperation(ctx, OperationLog{
				Operation:    operationClaim,
				SubscriberID: subscriberID,
				Error:        err,
			})
			return 0, err
		}
	}
	var claimed CreditAmount
	nowUnixUTC := service.nowFn()
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, found, err := transactionStore.FindAccountID(ctx, subscriberID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: no batches activated", ErrNoClaimableCredit)
		}
		claimedSoFar, err := transactionStore.ClaimedCredits(ctx, accountID)
		if err != nil {
			return err
		}
		batches, err := transactionStore.ListBatches(ctx, accountID)
		if err != nil {
			return err
		}
		produced, err := TotalCredit(batches, nowUnixUTC)
		if err != nil {
			return err
		}
		claimable, err := calculateClaimable(produced, claimedSoFar)
		if err != nil {
			return err
		}
		if claimable.Int64() == 0 {
			return ErrNoClaimableCredit
		}
		if err := transactionStore.AdvanceClaimedCredits(ctx, accountID, claimedSoFar, produced); err != nil {
			return err
		}
		claimed = claimable
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationClaim,
		SubscriberID: subscriberID,
		Credits:      claimed,
		Error:        operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return claimed, nil
}

// Batches lists the stored batches of a subscriber in activation
// order. Subscribers without an account have no batches.
func (service *Service) Batches(ctx context.Context, subscriberID SubscriberID) ([]Batch, error) {
	accountID, found, err := service.store.FindAccountID(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if !found {
		return []Batch{}, nil
	}
	return service.store.ListBatches(ctx, accountID)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func calculateClaimable(produced CreditAmount, claimed CreditAmount) (CreditAmount, error) {
	if claimed.Int64() > produced.Int64() {
		return 0, fmt.Errorf("%w: claimed %d, produced %d", ErrClaimedExceedsProduced, claimed.Int64(), produced.Int64())
	}
	return NewCreditAmount(produced.Int64() - claimed.Int64())
}
