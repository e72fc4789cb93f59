package access

import (
	"context"
	"errors"
	"fmt"
)

// Capability names a permission a caller may hold.
type Capability string

const (
	// CapabilityMinter is required to claim vested credit and to mint.
	CapabilityMinter Capability = "minter"
	// CapabilityPauser is required to pause and resume the service.
	CapabilityPauser Capability = "pauser"
)

// ErrUnauthorized is returned when the caller is missing or lacks a
// required capability.
var ErrUnauthorized = errors.New("unauthorized")

// Principal is an authenticated caller and the capabilities it holds.
type Principal struct {
	Subject      string
	Capabilities []Capability
}

// HasCapability reports whether the principal holds capability.
func (principal Principal) HasCapability(capability Capability) bool {
	for _, held := range principal.Capabilities {
		if held == capability {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the principal attached by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}

// RequireCapability fails with ErrUnauthorized unless the context
// carries a principal holding the capability.
func RequireCapability(ctx context.Context, capability Capability) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no principal", ErrUnauthorized)
	}
	if !principal.HasCapability(capability) {
		return fmt.Errorf("%w: subject %q lacks capability %q", ErrUnauthorized, principal.Subject, capability)
	}
	return nil
}
