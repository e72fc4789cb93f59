package access

import (
	"context"

	"github.com/clearledger/sponsorvest/pkg/vesting"
)

// MinterClaimAuthorizer re-validates the minter capability before the
// vesting engine settles a claim. The HTTP layer checks the same
// capability; the engine does not assume that check happened.
type MinterClaimAuthorizer struct{}

// NewMinterClaimAuthorizer returns the capability-checking claim hook.
func NewMinterClaimAuthorizer() *MinterClaimAuthorizer {
	return &MinterClaimAuthorizer{}
}

// AuthorizeClaim implements vesting.ClaimAuthorizer.
func (MinterClaimAuthorizer) AuthorizeClaim(ctx context.Context, _ vesting.SubscriberID) error {
	return RequireCapability(ctx, CapabilityMinter)
}
