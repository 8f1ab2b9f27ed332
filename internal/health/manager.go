// Package health runs periodic checks on the relay (connection capacity,
// process memory, tick lag, archive disk space) and emits a heartbeat.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/config"
	"github.com/slopcrew-project/slopcrew/internal/events"
	"github.com/slopcrew-project/slopcrew/internal/server"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// Manager runs the periodic health checks.
type Manager struct {
	cfg      config.HealthConfig
	maxConns int
	diskPath string
	eventBus *events.EventBus
	relay    *server.Server
	logger   zerolog.Logger

	diskUsage    func(path string) (*util.DiskUsage, error)
	processUsage func() (util.ProcessUsage, error)

	// lastLevel suppresses repeated alerts until a check changes level.
	mu        sync.Mutex
	lastLevel map[string]string
}

// NewManager creates a health manager for relay.
func NewManager(cfg *config.Config, eventBus *events.EventBus, relay *server.Server) *Manager {
	diskPath := "."
	if dbCfg := cfg.GetDatabase(); dbCfg.Enabled {
		diskPath = filepath.Dir(dbCfg.Path)
	}
	return &Manager{
		cfg:          cfg.GetHealth(),
		maxConns:     cfg.GetServer().MaxConnections,
		diskPath:     diskPath,
		eventBus:     eventBus,
		relay:        relay,
		logger:       util.ComponentLogger("health"),
		diskUsage:    util.GetDiskUsage,
		processUsage: util.GetProcessUsage,
		lastLevel:    make(map[string]string),
	}
}

type check struct {
	name     string
	interval int
	fn       func(context.Context)
}

// Start runs every check on its own ticker until ctx is cancelled. Checks
// run once immediately.
func (m *Manager) Start(ctx context.Context) {
	checks := []check{
		{"capacity", m.cfg.CapacityInterval, m.checkCapacity},
		{"tick_lag", m.cfg.CapacityInterval, m.checkTickLag},
		{"disk", m.cfg.DiskInterval, m.checkDisk},
		{"heartbeat", m.cfg.HeartbeatInterval, m.heartbeat},
	}

	started := 0
	for _, c := range checks {
		if c.interval <= 0 {
			continue
		}
		started++
		go m.loop(ctx, c)
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")
	<-ctx.Done()
	m.logger.Info().Msg("health check manager stopped")
}

// loop runs one check on its ticker.
func (m *Manager) loop(ctx context.Context, c check) {
	ticker := time.NewTicker(time.Duration(c.interval) * time.Second)
	defer ticker.Stop()

	m.logger.Debug().Str("check", c.name).Msg("running initial health check")
	c.fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fn(ctx)
		}
	}
}

// checkCapacity warns when the relay nears its connection limit or the
// process grows past the memory threshold.
func (m *Manager) checkCapacity(ctx context.Context) {
	stats := m.relay.Registry().Stats()

	level := ""
	if m.maxConns > 0 {
		pct := float64(stats.Connections) * 100 / float64(m.maxConns)
		switch {
		case stats.Connections >= m.maxConns:
			level = "critical"
		case pct >= m.cfg.CapacityWarnPct:
			level = "warning"
		}
		m.alert(ctx, "capacity", level, fmt.Sprintf("%d of %d connections in use (%.0f%%)",
			stats.Connections, m.maxConns, pct))
	}

	usage, err := m.processUsage()
	if err != nil {
		m.logger.Debug().Err(err).Msg("process usage unavailable")
		return
	}
	level = ""
	if m.cfg.MemoryWarnMB > 0 && usage.RSSMB >= m.cfg.MemoryWarnMB {
		level = "warning"
	}
	m.alert(ctx, "memory", level, fmt.Sprintf("relay RSS at %d MB (threshold %d MB)", usage.RSSMB, m.cfg.MemoryWarnMB))
}

// checkTickLag alerts when too many ticks overran their interval in the
// last hour.
func (m *Manager) checkTickLag(ctx context.Context) {
	alert, _ := m.relay.Lag().CheckThresholds(time.Now())
	m.alert(ctx, "tick_lag", alert.Level, alert.Message)
}

// checkDisk monitors free space where the race archive lives.
func (m *Manager) checkDisk(ctx context.Context) {
	usage, err := m.diskUsage(m.diskPath)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", m.diskPath).Msg("disk utilization check failed")
		return
	}

	m.logger.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	var level string
	switch {
	case usage.UsedPercent >= 98:
		level = "critical"
	case usage.UsedPercent >= 95:
		level = "error"
	case usage.UsedPercent >= 90:
		level = "warning"
	}

	m.alert(ctx, "disk", level, fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
		usage.UsedPercent, usage.Free, usage.Total))
}

// alert emits EventHealthAlert when a check enters a new non-empty level
// and logs recovery when it returns to normal.
func (m *Manager) alert(ctx context.Context, name, level, message string) {
	m.mu.Lock()
	prev := m.lastLevel[name]
	m.lastLevel[name] = level
	m.mu.Unlock()
	if level == prev {
		return
	}

	if level == "" {
		m.logger.Info().Str("check", name).Str("was", prev).Msg("health check recovered")
		return
	}

	m.logger.Warn().Str("check", name).Str("level", level).Msg(message)
	m.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHealthAlert,
		Source: "health_check",
		Payload: events.HealthAlertPayload{
			Check:   name,
			Level:   level,
			Message: message,
		},
	})
}

// heartbeat publishes a liveness summary.
func (m *Manager) heartbeat(ctx context.Context) {
	stats := m.relay.Registry().Stats()
	payload := events.HeartbeatPayload{
		Connections: stats.Connections,
		Population:  stats.Population,
		Tick:        m.relay.CurrentTick(),
	}
	if usage, err := m.processUsage(); err == nil {
		payload.RSSMB = usage.RSSMB
		payload.Goroutines = usage.Goroutines
		payload.UptimeSec = usage.UptimeSec
		payload.CPUPercent = usage.CPUPercent
	}

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Source:  "heartbeat",
		Payload: payload,
	})
}
