package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slopcrew-project/slopcrew/internal/config"
)

// handleGetConfig returns the running configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	result := config.Validate(s.cfg)
	c.JSON(http.StatusOK, gin.H{
		"config":   s.cfg.Redacted(),
		"path":     s.cfg.Path(),
		"valid":    result.IsValid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}
