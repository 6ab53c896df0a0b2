package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

// signatureTolerance bounds how old a signed timestamp may be; an old
// capture of a validly signed payload must not verify forever.
const signatureTolerance = 5 * time.Minute

// Verify checks the Stripe-Signature header (t=timestamp,v1=hmac) against
// the webhook signing secret before any payload is trusted.
func (c *Client) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := time.Since(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Parse maps the Stripe event into a canonical billing event. Event types
// outside the handled set return ErrEventIgnored.
func (c *Client) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "invoice.payment_succeeded":
		return c.parseInvoiceEvent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "invoice.payment_failed":
		return c.parseInvoiceEvent(event, payload, paymentdomain.EventTypePaymentFailed)
	case "customer.subscription.deleted":
		return c.parseSubscriptionEvent(event, payload, paymentdomain.EventTypeSubscriptionDeleted)
	case "customer.subscription.updated":
		return c.parseSubscriptionEvent(event, payload, paymentdomain.EventTypeSubscriptionUpdated)
	case "charge.dispute.created":
		return c.parseDisputeEvent(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeInvoiceObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Charge       string `json:"charge"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Created      int64  `json:"created"`
	PeriodStart  int64  `json:"period_start"`
	PeriodEnd    int64  `json:"period_end"`
	Lines        struct {
		Data []struct {
			Period struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type stripeSubscriptionObject struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Created            int64  `json:"created"`
}

type stripeDisputeObject struct {
	ID       string `json:"id"`
	Charge   string `json:"charge"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
	Created  int64  `json:"created"`
	// Expanded by Stripe when the charge carries the customer.
	Customer string `json:"customer"`
}

func (c *Client) parseInvoiceEvent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.Event, error) {
	var invoice stripeInvoiceObject
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(invoice.Customer) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := invoice.AmountPaid
	if amount <= 0 {
		amount = invoice.AmountDue
	}

	periodStart := invoice.PeriodStart
	periodEnd := invoice.PeriodEnd
	// Subscription invoices carry the service period on the line item,
	// not the invoice header.
	if len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Period.End > periodEnd {
		periodStart = invoice.Lines.Data[0].Period.Start
		periodEnd = invoice.Lines.Data[0].Period.End
	}

	return &paymentdomain.Event{
		ProviderEventID:      event.ID,
		Type:                 eventType,
		StripeCustomerID:     invoice.Customer,
		StripeSubscriptionID: invoice.Subscription,
		StripeInvoiceID:      invoice.ID,
		StripeChargeID:       invoice.Charge,
		AmountTotal:          amount,
		Currency:             strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		PeriodStart:          unixTime(periodStart, event.Created),
		PeriodEnd:            unixTime(periodEnd, event.Created),
		OccurredAt:           unixTime(invoice.Created, event.Created),
		RawPayload:           payload,
	}, nil
}

func (c *Client) parseSubscriptionEvent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.Event, error) {
	var sub stripeSubscriptionObject
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.Customer) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.Event{
		ProviderEventID:      event.ID,
		Type:                 eventType,
		StripeCustomerID:     sub.Customer,
		StripeSubscriptionID: sub.ID,
		ExternalStatus:       strings.TrimSpace(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		PeriodStart:          unixTime(sub.CurrentPeriodStart, event.Created),
		PeriodEnd:            unixTime(sub.CurrentPeriodEnd, event.Created),
		OccurredAt:           unixTime(sub.Created, event.Created),
		RawPayload:           payload,
	}, nil
}

func (c *Client) parseDisputeEvent(event stripeEvent, payload []byte) (*paymentdomain.Event, error) {
	var dispute stripeDisputeObject
	if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(dispute.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.Event{
		ProviderEventID:  event.ID,
		Type:             paymentdomain.EventTypeDisputeCreated,
		StripeCustomerID: dispute.Customer,
		StripeChargeID:   dispute.Charge,
		AmountTotal:      dispute.Amount,
		Currency:         strings.ToUpper(strings.TrimSpace(dispute.Currency)),
		DisputeReason:    strings.TrimSpace(dispute.Reason),
		OccurredAt:       unixTime(dispute.Created, event.Created),
		RawPayload:       payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}

func unixTime(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
