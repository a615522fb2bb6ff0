// Package identity abstracts the managed auth provider's admin surface.
// The webhook pipeline only needs one capability from it: creating a
// pre-verified account from an email address, for buyers who paid through
// hosted checkout without ever registering.
package identity

import (
	"context"
	"errors"
)

// ErrProvisioningFailed is returned when the identity provider rejects or
// fails an account creation request.
var ErrProvisioningFailed = errors.New("identity provisioning failed")

// CreateUserRequest describes the account to provision.
type CreateUserRequest struct {
	// Email is the account email. The buyer already paid through the
	// processor's checkout, so the address is treated as verified.
	Email string

	// Name is the initial display name.
	Name string
}

// Provisioner creates authenticated identities out-of-band.
type Provisioner interface {
	// CreateUser provisions a pre-verified account and returns its user id.
	CreateUser(ctx context.Context, req CreateUserRequest) (string, error)
}
