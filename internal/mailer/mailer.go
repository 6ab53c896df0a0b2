package mailer

import (
	"context"
	"time"
)

// Mailer dispatches the transactional emails tied to billing events. All
// sends are best-effort from the caller's perspective: a failed email never
// rolls back the state change it announces.
type Mailer interface {
	SendUpgradeConfirmation(ctx context.Context, to, name, tier string, amount int64, currency string) error
	// SendPaymentFailed covers both the day-0 notice and the mid-grace
	// reminder; reminder selects the variant.
	SendPaymentFailed(ctx context.Context, to, name string, graceEnd time.Time, reminder bool) error
	SendCancellation(ctx context.Context, to, name string, effectiveAt time.Time) error
	SendNearLimit(ctx context.Context, to, name string, used, limit int) error
	SendLimitReached(ctx context.Context, to, name string, periodEnd time.Time) error
	SendInvoice(ctx context.Context, to, name, invoiceNumber string, total int64, currency string, pdf []byte) error
	SendRefundConfirmation(ctx context.Context, to, name string, amount int64, currency string) error
	// SendOperatorAlert goes to the internal operations address, not the
	// craftsman.
	SendOperatorAlert(ctx context.Context, subject, body string) error
}

// Nop discards every email. Used in tests and when SMTP is not configured.
type Nop struct{}

func (Nop) SendUpgradeConfirmation(context.Context, string, string, string, int64, string) error {
	return nil
}
func (Nop) SendPaymentFailed(context.Context, string, string, time.Time, bool) error { return nil }
func (Nop) SendCancellation(context.Context, string, string, time.Time) error        { return nil }
func (Nop) SendNearLimit(context.Context, string, string, int, int) error            { return nil }
func (Nop) SendLimitReached(context.Context, string, string, time.Time) error        { return nil }
func (Nop) SendInvoice(context.Context, string, string, string, int64, string, []byte) error {
	return nil
}
func (Nop) SendRefundConfirmation(context.Context, string, string, int64, string) error { return nil }
func (Nop) SendOperatorAlert(context.Context, string, string) error                     { return nil }
