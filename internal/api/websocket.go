package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	intnet "github.com/slopcrew-project/slopcrew/internal/network"
	"github.com/slopcrew-project/slopcrew/internal/server"
)

// handleWebSocket upgrades the request and hands the session to the relay.
// The handler returns when the session ends.
func (s *Server) handleWebSocket(c *gin.Context) {
	limit := s.cfg.GetServer().MaxConnections
	if limit > 0 && s.relay.Registry().Stats().Connections >= limit {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server full"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug().Err(err).Str("client_ip", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}

	conn := intnet.NewConnection(ws, c.ClientIP(), s.wsOpts)
	err = s.relay.Serve(s.baseCtx, conn)
	switch {
	case err == nil, errors.Is(err, intnet.ErrClosed):
	case errors.Is(err, server.ErrServerFull):
		s.logger.Warn().Str("client_ip", c.ClientIP()).Msg("connection refused, server full")
	default:
		s.logger.Debug().Err(err).Str("client_ip", c.ClientIP()).Msg("websocket session ended")
	}
}
