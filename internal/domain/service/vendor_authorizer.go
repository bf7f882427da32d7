package service

import "beacon/internal/errors"

// ErrUnauthorizedVendor is returned when a connection presents a token that
// does not allow it to act as the claimed vendor. Unauthorized intents are
// rejected back to the sender, never silently dropped.
var ErrUnauthorizedVendor = errors.New("not authorized to act as this vendor")

// VendorAuthorizer answers whether a connection may publish presence for a
// vendor. The actual identity system is an external collaborator; this
// interface is the whole surface the subsystem consumes from it.
type VendorAuthorizer interface {
	// CanActAsVendor validates the token and checks it grants the vendor ID.
	// Returns ErrUnauthorizedVendor (possibly wrapped) when it does not.
	CanActAsVendor(token, vendorID string) error
}
