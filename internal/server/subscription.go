package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	craftsmandomain "github.com/GaitanS/Bricli-sub000/internal/craftsman/domain"
	subscriptiondomain "github.com/GaitanS/Bricli-sub000/internal/subscription/domain"
	tierdomain "github.com/GaitanS/Bricli-sub000/internal/tier/domain"
)

func craftsmanIDParam(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("craftsman_id"))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

// GetSubscription returns the craftsman's subscription with its tier,
// creating the implicit free-tier record on first read.
func (s *Server) GetSubscription(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.subscriptionSvc.Get(c.Request.Context(), craftsmanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, view)
}

type upgradeSubscriptionRequest struct {
	TierName        string `json:"tier_name" binding:"required"`
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
	WaiveWithdrawal bool   `json:"waive_withdrawal"`
}

// UpgradeSubscription moves the craftsman onto a paid tier. The fiscal
// profile must be complete before any billing call is made.
func (s *Server) UpgradeSubscription(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req upgradeSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tierName, err := tierdomain.ParseName(req.TierName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view, err := s.subscriptionSvc.Upgrade(c.Request.Context(), subscriptiondomain.UpgradeRequest{
		CraftsmanID:     craftsmanID,
		TierName:        tierName,
		PaymentMethodID: req.PaymentMethodID,
		WaiveWithdrawal: req.WaiveWithdrawal,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, view)
}

type cancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

func (s *Server) CancelSubscription(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	if err := s.subscriptionSvc.Cancel(c.Request.Context(), craftsmanID, req.Immediate); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"canceled": true, "immediate": req.Immediate})
}

// RefundSubscription exercises the 14-day withdrawal right.
func (s *Server) RefundSubscription(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.subscriptionSvc.Refund(c.Request.Context(), craftsmanID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"refunded": true})
}

func (s *Server) GetRefundEligibility(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	eligible, err := s.subscriptionSvc.CanRequestRefund(c.Request.Context(), craftsmanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"eligible": eligible})
}

func (s *Server) ListInvoices(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoices, err := s.invoiceSvc.ListByCraftsmanID(c.Request.Context(), craftsmanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, invoices)
}

func (s *Server) GetSubscriptionHistory(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.auditSvc.History(c.Request.Context(), craftsmanID, 0)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, entries)
}

type fiscalProfileRequest struct {
	Personhood  string `json:"personhood" binding:"required"`
	LegalName   string `json:"legal_name"`
	CNP         string `json:"cnp"`
	CUI         string `json:"cui"`
	AddressLine string `json:"address_line" binding:"required"`
	City        string `json:"city" binding:"required"`
	County      string `json:"county" binding:"required"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
}

// UpsertFiscalProfile stores the legal identity used on fiscal invoices.
func (s *Server) UpsertFiscalProfile(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req fiscalProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	profile, err := s.craftsmanSvc.UpsertFiscalProfile(c.Request.Context(), craftsmandomain.FiscalProfile{
		CraftsmanID: craftsmanID,
		Personhood:  craftsmandomain.Personhood(req.Personhood),
		LegalName:   req.LegalName,
		CNP:         req.CNP,
		CUI:         req.CUI,
		AddressLine: req.AddressLine,
		City:        req.City,
		County:      req.County,
		PostalCode:  req.PostalCode,
		Country:     req.Country,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, profile)
}
