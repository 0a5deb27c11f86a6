package entity

import "errors"

// Normalization errors. All are acked with a 2xx: redelivery cannot fix
// a malformed payload or a missing account mapping, and lookup failures
// are surfaced in logs rather than bounced back to the provider.
var (
	ErrMalformedEvent = errors.New("malformed webhook event")
	ErrUnknownAccount = errors.New("event does not map to a configured account")
	ErrAccountLookup  = errors.New("account lookup failed")
)
