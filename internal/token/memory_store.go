package token

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryStore keeps balances in a concurrent map. Reads are lock-free;
// transactions serialize on a store-wide mutex and buffer their writes,
// applying them only when the closure succeeds.
type MemoryStore struct {
	txMutex  sync.Mutex
	balances *xsync.Map[string, int64]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: xsync.NewMap[string, int64]()}
}

// WithTx executes fn against a buffered view of the store.
func (store *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	transaction := &memoryTx{store: store, pending: map[string]int64{}}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	for holderID, balance := range transaction.pending {
		store.balances.Store(holderID, balance)
	}
	return nil
}

// AddBalance applies delta as a single-step transaction.
func (store *MemoryStore) AddBalance(ctx context.Context, holderID string, delta Amount) (Amount, error) {
	var result Amount
	err := store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		applied, err := txStore.AddBalance(ctx, holderID, delta)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	return result, err
}

// Balance returns the committed balance for a holder.
func (store *MemoryStore) Balance(_ context.Context, holderID string) (Amount, error) {
	balance, _ := store.balances.Load(holderID)
	return Amount(balance), nil
}

// TotalSupply sums all committed balances.
func (store *MemoryStore) TotalSupply(_ context.Context) (Amount, error) {
	var total int64
	store.balances.Range(func(_ string, balance int64) bool {
		total += balance
		return true
	})
	return Amount(total), nil
}

type memoryTx struct {
	store   *MemoryStore
	pending map[string]int64
}

func (transaction *memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *memoryTx) AddBalance(_ context.Context, holderID string, delta Amount) (Amount, error) {
	next, err := applyDelta(transaction.read(holderID), delta)
	if err != nil {
		return 0, err
	}
	transaction.pending[holderID] = next
	return Amount(next), nil
}

func (transaction *memoryTx) Balance(_ context.Context, holderID string) (Amount, error) {
	return Amount(transaction.read(holderID)), nil
}

func (transaction *memoryTx) TotalSupply(_ context.Context) (Amount, error) {
	var total int64
	transaction.store.balances.Range(func(holderID string, balance int64) bool {
		if pending, ok := transaction.pending[holderID]; ok {
			total += pending
			return true
		}
		total += balance
		return true
	})
	for holderID, pending := range transaction.pending {
		if _, ok := transaction.store.balances.Load(holderID); !ok {
			total += pending
		}
	}
	return Amount(total), nil
}

func (transaction *memoryTx) read(holderID string) int64 {
	if pending, ok := transaction.pending[holderID]; ok {
		return pending
	}
	balance, _ := transaction.store.balances.Load(holderID)
	return balance
}

func applyDelta(current int64, delta Amount) (int64, error) {
	if delta > 0 && current > math.MaxInt64-int64(delta) {
		return 0, fmt.Errorf("%w: balance would exceed int64", ErrSupplyOverflow)
	}
	next := current + int64(delta)
	if next < 0 {
		return 0, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, current, -int64(delta))
	}
	return next, nil
}
