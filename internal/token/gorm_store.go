package token

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenBalance represents the token_balances table.
type TokenBalance struct {
	HolderID  string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TokenBalance) TableName() string { return "token_balances" }

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a GormStore backed by gorm.DB.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the token tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&TokenBalance{})
}

// WithTx executes fn within a transaction.
func (store *GormStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &GormStore{db: transaction})
	})
}

// AddBalance applies delta through a guarded update: the write only
// lands if the balance still matches the value read, so a concurrent
// writer surfaces as ErrBalanceConflict instead of a lost update.
func (store *GormStore) AddBalance(ctx context.Context, holderID string, delta Amount) (Amount, error) {
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TokenBalance{HolderID: holderID}).Error
	if err != nil {
		return 0, err
	}
	var row TokenBalance
	err = store.db.WithContext(ctx).
		Where("holder_id = ?", holderID).
		Take(&row).Error
	if err != nil {
		return 0, err
	}
	next, err := applyDelta(row.Balance, delta)
	if err != nil {
		return 0, err
	}
	result := store.db.WithContext(ctx).
		Model(&TokenBalance{}).
		Where("holder_id = ? AND balance = ?", holderID, row.Balance).
		Update("balance", next)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrBalanceConflict
	}
	return Amount(next), nil
}

// Balance returns the holder's balance, zero when no row exists.
func (store *GormStore) Balance(ctx context.Context, holderID string) (Amount, error) {
	var row TokenBalance
	err := store.db.WithContext(ctx).
		Where("holder_id = ?", holderID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return Amount(row.Balance), nil
}

// TotalSupply sums all balances.
func (store *GormStore) TotalSupply(ctx context.Context) (Amount, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&TokenBalance{}).
		Select("coalesce(sum(balance),0) as total").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	return Amount(sum.Total), nil
}

type sqlSum struct {
	Total int64
}
