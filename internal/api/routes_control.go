package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/slopcrew-project/slopcrew/internal/db"
)

type kickRequest struct {
	Reason string `json:"reason"`
}

type playerEntry struct {
	Name  string `json:"name"`
	Stage int32  `json:"stage"`
}

// handleAdminPlayers lists active players by name and stage.
func (s *Server) handleAdminPlayers(c *gin.Context) {
	players := s.relay.Registry().Players()
	out := make([]playerEntry, 0, len(players))
	for _, p := range players {
		out = append(out, playerEntry{Name: p.Name, Stage: p.Stage})
	}
	c.JSON(http.StatusOK, out)
}

// handleAdminPlayerDetail lists active players with IDs and addresses.
func (s *Server) handleAdminPlayerDetail(c *gin.Context) {
	players := s.relay.Registry().Players()
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"count":   len(players),
	})
}

// handleKick disconnects a player by ID.
func (s *Server) handleKick(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player id"})
		return
	}

	var req kickRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "kicked by operator"
	}

	if !s.relay.Kick(uint32(id), req.Reason) {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found", "id": id})
		return
	}

	s.logger.Info().
		Uint64("player", id).
		Str("client_ip", c.ClientIP()).
		Msg("player kicked via API")

	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"id":     id,
	})
}

// handleKicks lists recorded kicks for one address.
func (s *Server) handleKicks(c *gin.Context) {
	if s.kicks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "kick log disabled"})
		return
	}
	addr := c.Query("address")
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	kicks, err := s.kicks.ByAddress(c.Request.Context(), addr)
	if err != nil {
		s.logger.Error().Err(err).Str("address", addr).Msg("failed to list kicks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list kicks"})
		return
	}
	if kicks == nil {
		kicks = []db.Kick{}
	}
	c.JSON(http.StatusOK, gin.H{
		"kicks": kicks,
		"count": len(kicks),
	})
}
