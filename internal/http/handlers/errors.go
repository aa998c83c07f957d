// Package handlers defines the error codes carried in bridge error bodies.
//
// Clients branch on the code, not the message:
//
//	{"request_id": "e1b9be03-...", "code": "not_found", "message": "outbound message not found"}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Bridge-specific:
	ErrCodeListFailed = "list_failed"
	ErrCodeAckFailed  = "ack_failed"
)
