package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	invoicedomain "github.com/GaitanS/Bricli-sub000/internal/invoice/domain"
	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
	quotadomain "github.com/GaitanS/Bricli-sub000/internal/quota/domain"
	subscriptiondomain "github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrInternal       = errors.New("internal_error")
)

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// AbortWithError maps domain errors onto HTTP statuses with a stable error
// code in the body.
func AbortWithError(c *gin.Context, err error) {
	var missingFiscal *craftsmandomain.MissingFiscalDataError
	if errors.As(err, &missingFiscal) {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "missing_fiscal_data",
			"fields": missingFiscal.Fields,
		})
		return
	}

	var quotaDenied *quotadomain.InsufficientQuotaError
	if errors.As(err, &quotaDenied) {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":  "insufficient_quota",
			"reason": quotaDenied.Reason,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, tierdomain.ErrInvalidTier):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, tierdomain.ErrTierNotFound),
		errors.Is(err, craftsmandomain.ErrCraftsmanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, paymentdomain.ErrPaymentDeclined):
		status = http.StatusPaymentRequired
	case errors.Is(err, subscriptiondomain.ErrAlreadyOnTier),
		errors.Is(err, subscriptiondomain.ErrNoPaidSubscription),
		errors.Is(err, subscriptiondomain.ErrRefundNotAllowed),
		errors.Is(err, subscriptiondomain.ErrInvalidStatus),
		errors.Is(err, craftsmandomain.ErrCraftsmanSuspended):
		status = http.StatusConflict
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		message = ErrInternal.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
