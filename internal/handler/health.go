package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health reports liveness plus the configured upstream.
func (h *GenerationHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"provider":  h.svc.ProviderName(),
		"model":     h.svc.Model(),
		"timestamp": time.Now().Unix(),
	})
}
