package token

import (
	"context"

	"github.com/clearledger/sponsorvest/pkg/vesting"
)

// BurnRetirer retires activated units by burning them from the
// subscriber's token balance. A failed burn aborts the activation.
type BurnRetirer struct {
	tokens *Service
}

// NewBurnRetirer wraps the token service for use as the vesting
// activation hook.
func NewBurnRetirer(tokens *Service) *BurnRetirer {
	return &BurnRetirer{tokens: tokens}
}

// RetireUnits implements vesting.UnitRetirer.
func (retirer *BurnRetirer) RetireUnits(ctx context.Context, subscriberID vesting.SubscriberID, units vesting.UnitCount) error {
	return retirer.tokens.Burn(ctx, subscriberID.String(), Amount(units.Int64()))
}
