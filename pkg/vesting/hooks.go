package vesting

import "context"

// UnitRetirer removes activated units from the subscriber's custody.
// Activate calls it inside the transaction that appends the batch,
// after the append: a failed retirement rolls the batch back, and a
// batch rejected as duplicate or invalid never retires units.
type UnitRetirer interface {
	RetireUnits(ctx context.Context, subscriberID SubscriberID, units UnitCount) error
}

// ClaimAuthorizer decides whether a subscriber may convert entitlement
// into issued credit. Claim consults it before reading any state.
type ClaimAuthorizer interface {
	AuthorizeClaim(ctx context.Context, subscriberID SubscriberID) error
}

// WithUnitRetirer wires the hook that retires units during activation.
func WithUnitRetirer(retirer UnitRetirer) ServiceOption {
	return func(service *Service) {
		service.retirer = retirer
	}
}

// WithClaimAuthorizer wires the hook consulted before a claim proceeds.
func WithClaimAuthorizer(authorizer ClaimAuthorizer) ServiceOption {
	return func(service *Service) {
		service.authorizer = authorizer
	}
}
