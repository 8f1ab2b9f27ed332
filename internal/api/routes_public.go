package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/slopcrew-project/slopcrew/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "slopcrew",
	})
}

// handleServerInfo returns host and relay information.
func (s *Server) handleServerInfo(c *gin.Context) {
	srv := s.cfg.GetServer()
	sysInfo := util.GetSystemInfo()
	stats := s.relay.Registry().Stats()

	resp := gin.H{
		"protocol_version": srv.ProtocolVersion,
		"tick_rate":        srv.TickRate,
		"tick":             s.relay.CurrentTick(),
		"connections":      stats.Connections,
		"population":       stats.Population,
		"max_connections":  srv.MaxConnections,
		"hostname":         sysInfo.Hostname,
		"os":               sysInfo.OS,
		"arch":             sysInfo.Architecture,
		"go_version":       sysInfo.GoVersion,
		"cpu_model":        sysInfo.CPUModel,
		"cpu_cores":        sysInfo.CPUCores,
		"total_memory_mb":  sysInfo.TotalMemory,
	}
	if usage, err := util.GetProcessUsage(); err == nil {
		resp["process"] = usage
	}
	if memory, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = memory
	}
	c.JSON(http.StatusOK, resp)
}
