package models

import "errors"

// Domain errors. Each confirmation failure maps to a distinct
// user-facing message in the presentation layer, so they stay separate
// sentinels rather than one error with a reason field.
var (
	ErrValidation           = errors.New("validation failed")
	ErrRateLimited          = errors.New("creation limit reached")
	ErrPoiNotFound          = errors.New("point not found")
	ErrPoiOutdated          = errors.New("point is outdated")
	ErrSelfConfirmation     = errors.New("cannot confirm own point")
	ErrTooFar               = errors.New("too far from point to confirm")
	ErrStaleLocation        = errors.New("location missing or stale")
	ErrSubscriptionNotFound = errors.New("no subscription for user")

	// ErrStoreUnavailable marks transient store failures. Creation and
	// confirmation fail closed with no partial writes, so the operator
	// may safely retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)
