package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	var payload []byte
	if c.Request.Body != nil {
		var err error
		payload, err = io.ReadAll(c.Request.Body)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	out, err := s.webhooks.Ingest(c.Request.Context(), provider, payload, c.Request.Header, c.Request.URL.Query())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         out.Status,
		"transaction_id": out.TransactionID,
		"deduplicated":   out.Deduplicated,
	})
}
