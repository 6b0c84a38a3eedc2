// Package services implements the business logic of the command-routing
// core: entity/command resolution, dispatch, pattern-match moderation, and
// lease coordination. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer; mapping
// to user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

var (
	// ErrEntityNotFound indicates the (platform, server, channel) tuple does
	// not resolve to a registered, active entity. This is an expected outcome
	// for unregistered surfaces and is never logged as an error.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrCommandNotFound indicates the referenced command does not exist.
	ErrCommandNotFound = errors.New("command not found")

	// ErrRuleNotFound indicates the referenced string-match rule does not exist.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRateLimited is a policy rejection: the (command, entity, user) window
	// is at quota. Recorded on the audit trail, never retried.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrHandlerTimeout indicates the handler did not answer within the
	// command's configured timeout. Retried up to the command's budget.
	ErrHandlerTimeout = errors.New("handler timeout")

	// ErrHandlerTransport indicates a transport failure or non-2xx status
	// from the handler. Retried up to the command's budget.
	ErrHandlerTransport = errors.New("handler transport error")

	// ErrMalformedResponse indicates the handler replied with a body that
	// does not conform to the response contract. Terminal, never retried:
	// retrying will not fix a handler bug.
	ErrMalformedResponse = errors.New("malformed handler response")

	// ErrLeaseLost is the cooperative cancellation signal: a heartbeat or
	// release was rejected because the worker no longer holds the lease. The
	// worker must stop forwarding traffic for that entity immediately.
	ErrLeaseLost = errors.New("lease lost")

	// ErrLeaseNotFound indicates no lease row exists for the entity.
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrNotOwner indicates an event was forwarded for an entity by a worker
	// that does not hold the current claim.
	ErrNotOwner = errors.New("worker does not own entity")

	// ErrExecutionTerminal indicates a replay was attempted for an execution
	// that already reached success or failed; the handler is not re-invoked.
	ErrExecutionTerminal = errors.New("execution already terminal")
)
