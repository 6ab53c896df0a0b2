package domain

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrAlreadyOnTier        = errors.New("already_on_tier")
	ErrNotPaidTier          = errors.New("not_paid_tier")
	ErrNoPaidSubscription   = errors.New("no_paid_subscription")
	// ErrRefundNotAllowed covers an expired or waived withdrawal window.
	ErrRefundNotAllowed = errors.New("refund_not_allowed")
	ErrInvalidStatus    = errors.New("invalid_status")
)
