package domain

import "errors"

// Sentinel errors for the orchestration layer. Errors from external
// capabilities are classified into exactly one of these at the handle or
// manager boundary; the HTTP layer maps them to status codes.
var (
	// ErrConflict indicates a session id that is already active.
	ErrConflict = errors.New("already exists")

	// ErrNotFound covers missing sessions, tasks, elements, and tabs.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParameters indicates a request that failed validation
	// before any session or browser interaction took place.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrDomainNotAllowed indicates a navigation target outside the
	// session's configured allow-list.
	ErrDomainNotAllowed = errors.New("domain not allowed")

	// ErrProvisioning indicates the browser capability could not be
	// provisioned (launch failure, session limit reached).
	ErrProvisioning = errors.New("provisioning failed")

	// ErrUpstream indicates a failure inside an external capability
	// (browser driver, LLM) that is not one of the more specific cases.
	ErrUpstream = errors.New("upstream failure")

	// ErrTimeout indicates an operation exceeded its ceiling.
	ErrTimeout = errors.New("timed out")

	// ErrUnknownOperation indicates an operation name outside the closed set.
	ErrUnknownOperation = errors.New("unknown operation")
)
