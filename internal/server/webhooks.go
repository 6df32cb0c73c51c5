package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBodyBytes = 1 << 20

	contextWebhookProviderKey = "webhook_provider"
)

func (s *Server) HandleProviderWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if provider == "" {
		provider = c.GetString(contextWebhookProviderKey)
	}
	c.Set(contextWebhookProviderKey, provider)

	// the signature covers the exact bytes, so the body is read raw
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil || len(payload) > maxWebhookBodyBytes {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.Ingest(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"event_id": result.EventID,
		"outcome":  result.Outcome,
	})
}

func (s *Server) withProvider(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextWebhookProviderKey, provider)
		c.Next()
	}
}
