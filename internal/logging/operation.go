package logging

import (
	"context"

	"github.com/clearledger/sponsorvest/pkg/vesting"
	"go.uber.org/zap"
)

// VestingOperationLogger adapts a zap logger to the vesting operation
// callback. Successful operations log at info, failures at warn.
type VestingOperationLogger struct {
	logger *zap.Logger
}

// NewVestingOperationLogger wraps logger for use as a vesting.OperationLogger.
func NewVestingOperationLogger(logger *zap.Logger) *VestingOperationLogger {
	return &VestingOperationLogger{logger: logger}
}

// LogOperation implements vesting.OperationLogger.
func (operationLogger *VestingOperationLogger) LogOperation(_ context.Context, entry vesting.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("subscriber_id", entry.SubscriberID.String()),
		zap.String("status", entry.Status),
	}
	if entry.BatchID.String() != "" {
		fields = append(fields, zap.String("batch_id", entry.BatchID.String()))
	}
	if entry.Units.Int64() != 0 {
		fields = append(fields, zap.Int64("units", entry.Units.Int64()))
	}
	if entry.Credits.Int64() != 0 {
		fields = append(fields, zap.Int64("credits", entry.Credits.Int64()))
	}
	if entry.IdempotencyKey.String() != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("vesting operation failed", fields...)
		return
	}
	operationLogger.logger.Info("vesting operation", fields...)
}
