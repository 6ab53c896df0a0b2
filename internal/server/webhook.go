package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	paymentdomain "github.com/GaitanS/Bricli-sub000/internal/payment/domain"
)

// HandleStripeWebhook ingests billing provider events. The signature is
// verified before the payload is touched; ignored event types, duplicates
// and unknown customers are acknowledged with 200 so the provider stops
// redelivering them.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	ctx := c.Request.Context()

	if err := s.webhookAdapter.Verify(ctx, payload, c.Request.Header); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": paymentdomain.ErrInvalidSignature.Error()})
		return
	}

	event, err := s.webhookAdapter.Parse(ctx, payload)
	switch {
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = s.processor.ProcessEvent(ctx, event)
	switch {
	case err == nil,
		errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, paymentdomain.ErrUnknownCustomer):
		// Events for customers we never issued are acknowledged, not
		// retried forever.
		s.log.Warn("webhook for unknown customer",
			zap.String("event_id", event.ProviderEventID),
			zap.String("customer_id", event.StripeCustomerID))
		c.JSON(http.StatusOK, gin.H{"received": true})
	default:
		s.log.Error("webhook processing failed",
			zap.String("event_id", event.ProviderEventID),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": ErrInternal.Error()})
	}
}
