package cloud

import "errors"

// Error classes returned by Client. Callers test them with errors.Is; the
// returned error also wraps the underlying cause.
var (
	// ErrAuth means the vendor rejected the credentials, also after one
	// re-authentication.
	ErrAuth = errors.New("cloud: authentication failed")

	// ErrTransient covers timeouts, network errors, 408, 429 and 5xx.
	ErrTransient = errors.New("cloud: transient failure")

	// ErrRejected means the vendor refused the request (4xx or an error body).
	ErrRejected = errors.New("cloud: request rejected")

	// ErrNotFound means the vendor no longer knows the unit, or the unit was
	// not in the last listing.
	ErrNotFound = errors.New("cloud: device not found")
)

// errUnauthorized marks a 401/403 from the API so the caller can
// re-authenticate once before surfacing ErrAuth.
var errUnauthorized = errors.New("cloud: unauthorized")
