package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// GetLeadEligibility is the read-only preview: no lock is taken and no
// usage is consumed.
func (s *Server) GetLeadEligibility(c *gin.Context) {
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.quotaSvc.CanReceiveLead(c.Request.Context(), craftsmanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, decision)
}

// ProcessShortlist records a craftsman on an order's shortlist, consuming
// one lead. Repeating the call for the same pair is a no-op.
func (s *Server) ProcessShortlist(c *gin.Context) {
	orderID, err := snowflake.ParseString(c.Param("order_id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	craftsmanID, err := craftsmanIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	shortlist, err := s.quotaSvc.ProcessShortlist(c.Request.Context(), orderID, craftsmanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, shortlist)
}
