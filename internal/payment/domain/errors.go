package domain

import "errors"

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrUnknownCustomer       = errors.New("unknown_customer")
	// ErrPaymentDeclined is the user-facing card decline, distinct from
	// other provider failures.
	ErrPaymentDeclined = errors.New("payment_declined")
	ErrNoChargeFound   = errors.New("no_charge_found")
)
