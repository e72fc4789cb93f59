package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the vesting_accounts table. ClaimedCredits is the
// single monotonic counter backing claim settlement.
type Account struct {
	AccountID      string    `gorm:"type:uuid;primaryKey"`
	SubscriberID   string    `gorm:"not null;index:uniq_accounts_subscriber,unique"`
	ClaimedCredits int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "vesting_accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// VestingBatch mirrors the vesting_batches table. Rows are append-only.
type VestingBatch struct {
	BatchID        string         `gorm:"type:uuid;primaryKey"`
	AccountID      string         `gorm:"type:uuid;not null;index:idx_batches_account_purchased,priority:1;index:uniq_batches_account_key,unique,priority:1"`
	Units          int64          `gorm:"not null"`
	IdempotencyKey string         `gorm:"not null;index:uniq_batches_account_key,unique,priority:2"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;not null"`
	PurchasedAt    time.Time      `gorm:"not null;index:idx_batches_account_purchased,priority:2"`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (VestingBatch) TableName() string { return "vesting_batches" }

func (batch *VestingBatch) BeforeCreate(tx *gorm.DB) error {
	if batch.BatchID == "" {
		batch.BatchID = uuid.NewString()
	}
	return nil
}
