package stripe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GaitanS/Bricli-sub000/internal/config"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

type recordedRequest struct {
	method string
	path   string
	form   url.Values
}

func newAPIClient(t *testing.T, status int, body string) (*Client, *[]recordedRequest) {
	t.Helper()

	var recorded []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		form, err := url.ParseQuery(string(raw))
		require.NoError(t, err)
		recorded = append(recorded, recordedRequest{method: r.Method, path: r.URL.Path, form: form})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(config.Config{Stripe: config.StripeConfig{
		SecretKey: "sk_test", BaseURL: srv.URL,
	}}, zap.NewNop())
	return client, &recorded
}

func TestCreateSubscriptionRequestsProration(t *testing.T) {
	client, recorded := newAPIClient(t, http.StatusOK,
		`{"id":"sub_1","status":"active","current_period_start":1767225600,"current_period_end":1769904000}`)

	sub, err := client.CreateSubscription(context.Background(), "cus_1", "price_plus", "42")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/v1/subscriptions", req.path)
	assert.Equal(t, "create_prorations", req.form.Get("proration_behavior"),
		"unused time on the previous price must come back as credit")
	assert.Equal(t, "error_if_incomplete", req.form.Get("payment_behavior"))
}

func TestCancelSubscriptionAtPeriodEnd(t *testing.T) {
	client, recorded := newAPIClient(t, http.StatusOK, `{"id":"sub_1"}`)

	require.NoError(t, client.CancelSubscription(context.Background(), "sub_1", true))

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/v1/subscriptions/sub_1", req.path)
	assert.Equal(t, "true", req.form.Get("cancel_at_period_end"))
}

func TestCancelSubscriptionImmediateProrates(t *testing.T) {
	client, recorded := newAPIClient(t, http.StatusOK, `{"id":"sub_1"}`)

	require.NoError(t, client.CancelSubscription(context.Background(), "sub_1", false))

	require.Len(t, *recorded, 1)
	req := (*recorded)[0]
	assert.Equal(t, http.MethodDelete, req.method)
	assert.Equal(t, "/v1/subscriptions/sub_1", req.path)
	assert.Equal(t, "true", req.form.Get("prorate"),
		"immediate cancellation credits the remaining period")
}

func TestDeclinedCardMapsToSentinel(t *testing.T) {
	client, _ := newAPIClient(t, http.StatusPaymentRequired,
		`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"declined"}}`)

	_, err := client.CreateSubscription(context.Background(), "cus_1", "price_plus", "42")
	require.ErrorIs(t, err, paymentdomain.ErrPaymentDeclined)
}
