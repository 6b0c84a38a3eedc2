// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants give clients a stable, machine-readable taxonomy
// that supplements the human-readable messages. Codes are lowercase
// snake_case; generic codes mirror common HTTP status semantics, while
// domain-specific codes cover outcomes a status alone cannot convey (e.g. a
// lease heartbeat rejected because ownership moved).
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotOwner       = "not_owner"
	ErrCodeLeaseLost      = "lease_lost"
	ErrCodeDispatchFailed = "dispatch_failed"
	ErrCodeCreateFailed   = "create_failed"
	ErrCodeListFailed     = "list_failed"
)
