package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/slopcrew-project/slopcrew/internal/db"
)

const (
	defaultRecentRaces = 20
	maxRecentRaces     = 100
)

// handleMetrics reports the connection and population counts.
func (s *Server) handleMetrics(c *gin.Context) {
	stats := s.relay.Registry().Stats()
	c.JSON(http.StatusOK, gin.H{
		"connections": stats.Connections,
		"population":  stats.Population,
	})
}

// handleStages returns the player count per occupied stage and the number
// of players waiting in each race pool.
func (s *Server) handleStages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"players":   s.relay.Registry().Stages(),
		"race_pool": s.relay.Races().Pooled(),
	})
}

// handleTickLag returns the long tick summary.
func (s *Server) handleTickLag(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Lag().Snapshot())
}

// handleLiveRaces lists race sessions that have not been ranked yet.
func (s *Server) handleLiveRaces(c *gin.Context) {
	sessions := s.relay.Races().Sessions()
	c.JSON(http.StatusOK, gin.H{
		"races": sessions,
		"count": len(sessions),
	})
}

// handleRecentRaces lists archived race results, newest first.
func (s *Server) handleRecentRaces(c *gin.Context) {
	if s.races == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "race archive disabled"})
		return
	}

	limit := defaultRecentRaces
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxRecentRaces)
	}

	records, err := s.races.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list recent races")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list races"})
		return
	}
	if records == nil {
		records = []db.RaceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"races": records,
		"count": len(records),
	})
}
