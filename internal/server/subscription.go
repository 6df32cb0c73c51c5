package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetSubscriptionStatus(c *gin.Context) {
	resp, err := s.subscriptionSvc.GetStatus(c.Request.Context(), subjectFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
