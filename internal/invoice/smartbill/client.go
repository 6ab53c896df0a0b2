package smartbill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GaitanS/Bricli-sub000/internal/config"
	invoicedomain "github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
)

const requestTimeout = 15 * time.Second

// Client talks to the SmartBill invoicing API: JSON requests with Basic
// Auth, invoice numbers assigned server-side within our configured series.
type Client struct {
	cfg        config.SmartBillConfig
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		cfg:        cfg.SmartBill,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.Named("invoice.smartbill"),
	}
}

var _ invoicedomain.FiscalClient = (*Client)(nil)

type invoiceRequest struct {
	CompanyVATCode string          `json:"companyVatCode"`
	Client         invoiceClient   `json:"client"`
	SeriesName     string          `json:"seriesName"`
	IssueDate      string          `json:"issueDate"`
	Currency       string          `json:"currency"`
	Products       []invoiceProduct `json:"products"`
}

type invoiceClient struct {
	Name    string `json:"name"`
	VATCode string `json:"vatCode"`
	Address string `json:"address"`
	Country string `json:"country"`
	IsTaxPayer bool `json:"isTaxPayer"`
}

type invoiceProduct struct {
	Name               string  `json:"name"`
	Quantity           int     `json:"quantity"`
	Price              float64 `json:"price"`
	MeasuringUnitName  string  `json:"measuringUnitName"`
	Currency           string  `json:"currency"`
	TaxName            string  `json:"taxName"`
	TaxPercentage      float64 `json:"taxPercentage"`
	IsTaxIncluded      bool    `json:"isTaxIncluded"`
	IsService          bool    `json:"isService"`
}

type invoiceResponse struct {
	ErrorText string `json:"errorText"`
	Message   string `json:"message"`
	Number    string `json:"number"`
	Series    string `json:"series"`
}

// IssueInvoice implements invoicedomain.FiscalClient.
func (c *Client) IssueInvoice(ctx context.Context, req invoicedomain.IssueRequest) (invoicedomain.FiscalInvoice, error) {
	payload := invoiceRequest{
		CompanyVATCode: c.cfg.CompanyVAT,
		Client: invoiceClient{
			Name:    req.ClientName,
			VATCode: req.ClientFiscalCode,
			Address: req.ClientAddress,
			Country: "Romania",
		},
		SeriesName: c.cfg.Series,
		IssueDate:  req.IssueDate.Format("2006-01-02"),
		Currency:   req.Currency,
		Products: []invoiceProduct{{
			Name:              req.ProductName,
			Quantity:          1,
			Price:             float64(req.TotalAmount) / 100,
			MeasuringUnitName: "buc",
			Currency:          req.Currency,
			TaxName:           "Normala",
			TaxPercentage:     19,
			IsTaxIncluded:     true,
			IsService:         true,
		}},
	}

	var resp invoiceResponse
	if err := c.doRequest(ctx, http.MethodPost, "/invoice", payload, &resp); err != nil {
		return invoicedomain.FiscalInvoice{}, err
	}
	if resp.ErrorText != "" {
		return invoicedomain.FiscalInvoice{}, fmt.Errorf("%w: %s", invoicedomain.ErrFiscalAPI, resp.ErrorText)
	}
	if resp.Number == "" {
		return invoicedomain.FiscalInvoice{}, fmt.Errorf("%w: empty invoice number", invoicedomain.ErrFiscalAPI)
	}

	series := resp.Series
	if series == "" {
		series = c.cfg.Series
	}
	return invoicedomain.FiscalInvoice{Series: series, Number: resp.Number}, nil
}

// FetchPDF implements invoicedomain.FiscalClient.
func (c *Client) FetchPDF(ctx context.Context, series, number string) ([]byte, error) {
	query := url.Values{}
	query.Set("cif", c.cfg.CompanyVAT)
	query.Set("seriesname", series)
	query.Set("number", number)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/invoice/pdf?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Token)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invoicedomain.ErrFiscalAPI, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: pdf fetch status %d", invoicedomain.ErrFiscalAPI, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", invoicedomain.ErrFiscalAPI, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", invoicedomain.ErrFiscalAPI, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Warn("smartbill api error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return fmt.Errorf("%w: status %d", invoicedomain.ErrFiscalAPI, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %v", invoicedomain.ErrFiscalAPI, err)
		}
	}
	return nil
}
