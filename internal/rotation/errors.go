package rotation

import "errors"

var (
	// ErrDuplicateIdentity is returned when registering a phone that is
	// already in the pool. Registration is reject-on-duplicate, not upsert.
	ErrDuplicateIdentity = errors.New("account already registered")

	// ErrNotFound is returned when reporting against an unknown phone.
	ErrNotFound = errors.New("account not found")
)
