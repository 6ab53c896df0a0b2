package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

func newTestClient() *Client {
	return &Client{
		webhookSecret: "whsec_test",
		log:           zap.NewNop(),
	}
}

func signPayload(secret string, payload []byte) http.Header {
	return signPayloadAt(secret, payload, time.Now())
}

func signPayloadAt(secret string, payload []byte, signedAt time.Time) http.Header {
	timestamp := fmt.Sprintf("%d", signedAt.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, signature))
	return headers
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)

	err := client.Verify(context.Background(), payload, signPayload("whsec_test", payload))
	require.NoError(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{"id":"evt_1"}`)

	err := client.Verify(context.Background(), payload, signPayload("whsec_other", payload))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	client := newTestClient()

	err := client.Verify(context.Background(), []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{"id":"evt_1"}`)
	headers := signPayload("whsec_test", payload)

	err := client.Verify(context.Background(), []byte(`{"id":"evt_2"}`), headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{"id":"evt_1"}`)

	// Correctly signed, but captured long ago.
	headers := signPayloadAt("whsec_test", payload, time.Now().Add(-10*time.Minute))
	err := client.Verify(context.Background(), payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{"id":"evt_1"}`)

	headers := signPayloadAt("whsec_test", payload, time.Now().Add(10*time.Minute))
	err := client.Verify(context.Background(), payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}

func TestParsePaymentSucceeded(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{
		"id": "evt_succeeded",
		"type": "invoice.payment_succeeded",
		"created": 1700000000,
		"data": {"object": {
			"id": "in_123",
			"customer": "cus_123",
			"subscription": "sub_123",
			"charge": "ch_123",
			"amount_paid": 4900,
			"currency": "ron",
			"created": 1700000000,
			"lines": {"data": [{"period": {"start": 1700000000, "end": 1702592000}}]}
		}}
	}`)

	event, err := client.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_succeeded", event.ProviderEventID)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.Type)
	assert.Equal(t, "cus_123", event.StripeCustomerID)
	assert.Equal(t, "sub_123", event.StripeSubscriptionID)
	assert.Equal(t, "in_123", event.StripeInvoiceID)
	assert.Equal(t, "ch_123", event.StripeChargeID)
	assert.Equal(t, int64(4900), event.AmountTotal)
	assert.Equal(t, "RON", event.Currency)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.PeriodStart)
	assert.Equal(t, time.Unix(1702592000, 0).UTC(), event.PeriodEnd)
}

func TestParsePaymentFailedUsesAmountDue(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{
		"id": "evt_failed",
		"type": "invoice.payment_failed",
		"created": 1700000000,
		"data": {"object": {
			"id": "in_456",
			"customer": "cus_456",
			"subscription": "sub_456",
			"amount_paid": 0,
			"amount_due": 9900,
			"currency": "ron"
		}}
	}`)

	event, err := client.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypePaymentFailed, event.Type)
	assert.Equal(t, int64(9900), event.AmountTotal)
}

func TestParseSubscriptionUpdated(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{
		"id": "evt_updated",
		"type": "customer.subscription.updated",
		"created": 1700000000,
		"data": {"object": {
			"id": "sub_789",
			"customer": "cus_789",
			"status": "past_due",
			"cancel_at_period_end": true,
			"current_period_start": 1700000000,
			"current_period_end": 1702592000
		}}
	}`)

	event, err := client.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeSubscriptionUpdated, event.Type)
	assert.Equal(t, "past_due", event.ExternalStatus)
	assert.True(t, event.CancelAtPeriodEnd)
}

func TestParseDisputeCreated(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{
		"id": "evt_dispute",
		"type": "charge.dispute.created",
		"created": 1700000000,
		"data": {"object": {
			"id": "dp_1",
			"charge": "ch_999",
			"customer": "cus_999",
			"amount": 4900,
			"currency": "ron",
			"reason": "fraudulent"
		}}
	}`)

	event, err := client.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeDisputeCreated, event.Type)
	assert.Equal(t, "ch_999", event.StripeChargeID)
	assert.Equal(t, "fraudulent", event.DisputeReason)
}

func TestParseIgnoresUnknownEventType(t *testing.T) {
	client := newTestClient()
	payload := []byte(`{"id":"evt_x","type":"payment_intent.created","data":{"object":{}}}`)

	_, err := client.Parse(context.Background(), payload)
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	client := newTestClient()

	_, err := client.Parse(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestParseRejectsMissingEventID(t *testing.T) {
	client := newTestClient()

	_, err := client.Parse(context.Background(), []byte(`{"type":"invoice.payment_succeeded","data":{"object":{}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)
}
