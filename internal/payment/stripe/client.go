package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GaitanS/Bricli-sub000/internal/config"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

const requestTimeout = 10 * time.Second

// Client talks to the Stripe REST API with form-encoded requests and
// implements both the outbound provider client and the webhook adapter.
type Client struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	log           *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		apiKey:        cfg.Stripe.SecretKey,
		webhookSecret: cfg.Stripe.WebhookSecret,
		baseURL:       strings.TrimRight(cfg.Stripe.BaseURL, "/") + "/v1",
		httpClient:    &http.Client{Timeout: requestTimeout},
		log:           log.Named("payment.stripe"),
	}
}

var _ paymentdomain.ProviderClient = (*Client)(nil)
var _ paymentdomain.WebhookAdapter = (*Client)(nil)

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		Message     string `json:"message"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

func (c *Client) CreateCustomer(ctx context.Context, email, name string, craftsmanID string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("name", name)
	form.Set("metadata[craftsman_id]", craftsmanID)

	var customer struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/customers", form, true, &customer); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (c *Client) UpdateCustomerEmail(ctx context.Context, customerID, email string) error {
	form := url.Values{}
	form.Set("email", email)
	return c.doRequest(ctx, http.MethodPost, "/customers/"+url.PathEscape(customerID), form, false, nil)
}

func (c *Client) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	form := url.Values{}
	form.Set("customer", customerID)
	path := "/payment_methods/" + url.PathEscape(paymentMethodID) + "/attach"
	if err := c.doRequest(ctx, http.MethodPost, path, form, false, nil); err != nil {
		return err
	}

	form = url.Values{}
	form.Set("invoice_settings[default_payment_method]", paymentMethodID)
	return c.doRequest(ctx, http.MethodPost, "/customers/"+url.PathEscape(customerID), form, false, nil)
}

func (c *Client) CreateSubscription(ctx context.Context, customerID, priceID string, craftsmanID string) (paymentdomain.ProviderSubscription, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("items[0][price]", priceID)
	form.Set("payment_behavior", "error_if_incomplete")
	form.Set("proration_behavior", "create_prorations")
	form.Set("metadata[craftsman_id]", craftsmanID)

	var sub struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/subscriptions", form, true, &sub); err != nil {
		return paymentdomain.ProviderSubscription{}, err
	}
	return paymentdomain.ProviderSubscription{
		ID:                 sub.ID,
		Status:             sub.Status,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	path := "/subscriptions/" + url.PathEscape(subscriptionID)
	if atPeriodEnd {
		form := url.Values{}
		form.Set("cancel_at_period_end", "true")
		return c.doRequest(ctx, http.MethodPost, path, form, false, nil)
	}
	// Immediate cancellation credits unused time back to the customer.
	form := url.Values{}
	form.Set("prorate", "true")
	return c.doRequest(ctx, http.MethodDelete, path, form, false, nil)
}

func (c *Client) LatestCharge(ctx context.Context, customerID string) (paymentdomain.ProviderCharge, error) {
	query := url.Values{}
	query.Set("customer", customerID)
	query.Set("limit", "1")

	var charges struct {
		Data []struct {
			ID       string `json:"id"`
			Amount   int64  `json:"amount"`
			Currency string `json:"currency"`
			Created  int64  `json:"created"`
			Paid     bool   `json:"paid"`
			Refunded bool   `json:"refunded"`
		} `json:"data"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/charges?"+query.Encode(), nil, false, &charges); err != nil {
		return paymentdomain.ProviderCharge{}, err
	}
	for _, charge := range charges.Data {
		if !charge.Paid || charge.Refunded {
			continue
		}
		return paymentdomain.ProviderCharge{
			ID:       charge.ID,
			Amount:   charge.Amount,
			Currency: strings.ToUpper(charge.Currency),
			Created:  time.Unix(charge.Created, 0).UTC(),
		}, nil
	}
	return paymentdomain.ProviderCharge{}, paymentdomain.ErrNoChargeFound
}

func (c *Client) CreateRefund(ctx context.Context, chargeID string) (string, error) {
	form := url.Values{}
	form.Set("charge", chargeID)

	var refund struct {
		ID string `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/refunds", form, true, &refund); err != nil {
		return "", err
	}
	return refund.ID, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, form url.Values, idempotent bool, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotent {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read stripe response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.mapError(method, path, resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode stripe response: %w", err)
		}
	}
	return nil
}

func (c *Client) mapError(method, path string, status int, raw []byte) error {
	var payload apiError
	_ = json.Unmarshal(raw, &payload)

	c.log.Warn("stripe api error",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.String("code", payload.Error.Code),
		zap.String("decline_code", payload.Error.DeclineCode))

	if payload.Error.Code == "card_declined" || payload.Error.DeclineCode != "" {
		return paymentdomain.ErrPaymentDeclined
	}
	if payload.Error.Message != "" {
		return errors.New("stripe: " + payload.Error.Message)
	}
	return fmt.Errorf("stripe: unexpected status %d", status)
}
