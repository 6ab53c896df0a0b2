package server

import "github.com/gin-gonic/gin"

// ListTiers returns the public tier catalog.
func (s *Server) ListTiers(c *gin.Context) {
	tiers, err := s.tierSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, tiers)
}
