// Package handlers defines HTTP-layer error codes used across all endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Generic codes mirror common HTTP status semantics;
// domain-specific codes cover business failures a status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeImportFailed = "import_failed"
	ErrCodeStatsFailed  = "stats_failed"
	ErrCodeListFailed   = "list_failed"
)
