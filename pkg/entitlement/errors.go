package entitlement

import "errors"

var (
	// ErrProfileNotFound is returned when no profile exists for the lookup key
	ErrProfileNotFound = errors.New("user profile not found")

	// ErrMappingNotFound is returned when no customer mapping exists for a customer id
	ErrMappingNotFound = errors.New("customer mapping not found")

	// ErrMirrorNotFound is returned when no subscription mirror exists for a customer id
	ErrMirrorNotFound = errors.New("subscription mirror not found")

	// ErrEmailTaken is returned when creating a profile for an email that
	// already has one (unique-constraint violation)
	ErrEmailTaken = errors.New("email already has a profile")

	// ErrUnmappedPrice is returned under the strict policy for an active
	// subscription whose price id is not in the price table
	ErrUnmappedPrice = errors.New("price id not mapped to a plan")

	// ErrUnmappedAmount is returned under the strict policy for a one-time
	// amount outside every recognized range
	ErrUnmappedAmount = errors.New("payment amount not mapped to a plan")
)
