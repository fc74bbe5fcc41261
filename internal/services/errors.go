// Package services defines the business logic for pass delivery and the
// coupon inventory pool. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrMissingLinkColumn is returned by InventoryService.ImportCSV when the
	// input schema lacks the required download_link column. Nothing is
	// inserted in that case.
	ErrMissingLinkColumn = errors.New("csv import requires a download_link column")

	// ErrEmptySubject is returned when a delivery is requested for a blank
	// subject identifier.
	ErrEmptySubject = errors.New("subject id must not be empty")
)
