package domain

import "errors"

var (
	ErrFiscalAPI       = errors.New("fiscal_api_error")
	ErrInvoiceNotFound = errors.New("invoice_not_found")
)
