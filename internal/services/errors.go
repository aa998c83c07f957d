// Package services holds the bot's business logic: the authentication
// handshake, the order-action pipeline and the conversational front end that
// ties them to the intent classifiers.
//
// This file centralizes the service-level error values. They classify what
// went wrong so callers (and metrics) can react consistently; the user-facing
// text is produced by the services themselves.
package services

import "errors"

var (
	// ErrUserInput marks input the user must correct: a malformed OTP, an
	// unrecognized confirmation, or an action without order ids.
	ErrUserInput = errors.New("user input rejected")

	// ErrUpstreamUnavailable wraps any collaborator failure (backend, store,
	// model). Session state is left unchanged so the user can retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPermissionDenied means an order belongs to another account.
	ErrPermissionDenied = errors.New("order belongs to another account")

	// ErrOrderNotFound means the backend does not know the order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrRateLimited means at least one (owner, order, action) key is still
	// inside its cooldown window; the whole batch is rejected.
	ErrRateLimited = errors.New("cooldown active")

	// ErrTooManyOrders is returned when a batch exceeds the configured cap.
	ErrTooManyOrders = errors.New("too many order ids")

	// ErrNotAuthenticated is returned when an order action arrives before
	// the handshake completed.
	ErrNotAuthenticated = errors.New("conversation not authenticated")
)
