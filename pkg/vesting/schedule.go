package vesting

import (
	"fmt"
	"math"
)

// Schedule parameters. A period is a fixed 30-day window, twelve
// periods make a vesting year, and accrual stops after 72 periods
// (six years) at 252 credits per unit.
const (
	SecondsPerPeriod int64 = 30 * 24 * 60 * 60
	PeriodsPerYear   int64 = 12
	PeriodCap        int64 = 72
	MaxCreditPerUnit int64 = 252
)

// ElapsedPeriods converts elapsed seconds into the number of vesting
// periods credited so far. The first period is credited immediately on
// activation; the count is capped at PeriodCap.
func ElapsedPeriods(elapsedSeconds int64) int64 {
	if elapsedSeconds < 0 {
		return 0
	}
	periods := elapsedSeconds/SecondsPerPeriod + 1
	if periods > PeriodCap {
		periods = PeriodCap
	}
	return periods
}

// CreditPerUnit returns the cumulative credit produced by a single unit
// after the given elapsed time. Each period inside year y (zero-based)
// is worth y+1 credits, so the cumulative total after p periods is
//
//	6*years*(years+1) + remainder*(years+1)
//
// with years = p/12 and remainder = p%12. Negative elapsed time
// produces nothing.
func CreditPerUnit(elapsedSeconds int64) int64 {
	periods := ElapsedPeriods(elapsedSeconds)
	years := periods / PeriodsPerYear
	remainder := periods % PeriodsPerYear
	return 6*years*(years+1) + remainder*(years+1)
}

// BatchCredit returns the credit produced by every unit of a batch at
// the given instant. A batch purchased after nowUnixUTC means the clock
// ran backwards; that is reported, never clamped.
func BatchCredit(batch Batch, nowUnixUTC int64) (CreditAmount, error) {
	elapsedSeconds := nowUnixUTC - batch.PurchasedAtUnixUTC()
	if elapsedSeconds < 0 {
		return 0, fmt.Errorf("%w: batch %s purchased at %d, now %d", ErrBatchFromFuture, batch.BatchID().String(), batch.PurchasedAtUnixUTC(), nowUnixUTC)
	}
	perUnit := CreditPerUnit(elapsedSeconds)
	unitsRaw := batch.Units().Int64()
	if perUnit > 0 && unitsRaw > math.MaxInt64/perUnit {
		return 0, fmt.Errorf("%w: batch %s of %d units", ErrCreditOverflow, batch.BatchID().String(), unitsRaw)
	}
	return NewCreditAmount(perUnit * unitsRaw)
}

// TotalCredit sums the produced credit across all batches of an
// account at the given instant.
func TotalCredit(batches []Batch, nowUnixUTC int64) (CreditAmount, error) {
	var total int64
	for _, batch := range batches {
		credit, err := BatchCredit(batch, nowUnixUTC)
		if err != nil {
			return 0, err
		}
		if total > math.MaxInt64-credit.Int64() {
			return 0, fmt.Errorf("%w: account total", ErrCreditOverflow)
		}
		total += credit.Int64()
	}
	return NewCreditAmount(total)
}
