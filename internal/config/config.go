// Package config handles configuration loading, validation, and persistence
// for the SlopCrew relay.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/slopcrew-project/slopcrew/internal/encounter"
	"github.com/slopcrew-project/slopcrew/internal/network"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
	"github.com/slopcrew-project/slopcrew/internal/race"
	"github.com/slopcrew-project/slopcrew/internal/server"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultListenAddr = ":42069"
)

// Config is the root configuration structure for the relay.
type Config struct {
	mu   sync.RWMutex
	path string

	Server     ServerConfig    `json:"server"`
	Encounters EncounterConfig `json:"encounters"`
	Races      RaceConfig      `json:"races"`
	Security   SecurityConfig  `json:"security"`
	MQTT       MQTTConfig      `json:"mqtt"`
	Database   DatabaseConfig  `json:"database"`
	Filter     FilterConfig    `json:"filter"`
	Health     HealthConfig    `json:"health"`
	Logging    util.LogConfig  `json:"logging"`
}

// ServerConfig holds listener and relay core settings.
type ServerConfig struct {
	ListenAddr      string `json:"listen_addr"`
	ProtocolVersion uint32 `json:"protocol_version"`
	TickRate        int    `json:"tick_rate"`
	SyncInterval    int    `json:"sync_interval_ticks"`
	StatsInterval   int    `json:"stats_interval_ticks"`
	MaxConnections  int    `json:"max_connections"`
	SendQueueSize   int    `json:"send_queue_size"`
	ReadTimeout     int    `json:"read_timeout_sec"`
	WriteTimeout    int    `json:"write_timeout_sec"`
	PingInterval    int    `json:"ping_interval_sec"`
	MaxFrameSize    int64  `json:"max_frame_bytes"`

	// DeveloperHashes are hex SHA-256 digests of developer secrets.
	DeveloperHashes []string `json:"developer_secret_hashes"`
	// EnableConsole starts the interactive operator console on stdin.
	EnableConsole bool `json:"enable_console"`
}

// EncounterConfig holds encounter timing settings.
type EncounterConfig struct {
	WindowSec        int   `json:"request_window_sec"`
	ScoreDuration    int32 `json:"score_duration_sec"`
	ComboDuration    int32 `json:"combo_duration_sec"`
	GraffitiDuration int32 `json:"graffiti_duration_sec"`
	DefaultDuration  int32 `json:"default_duration_sec"`
	GraffitiPool     int   `json:"graffiti_spot_pool"`
	GraffitiPicks    int   `json:"graffiti_spot_picks"`
}

// Point is a JSON friendly Vector3.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func (p Point) vector() protocol.Vector3 {
	return protocol.Vector3{X: p.X, Y: p.Y, Z: p.Z}
}

// TrackConfig describes one race course.
type TrackConfig struct {
	Start       Point   `json:"start_position"`
	Checkpoints []Point `json:"checkpoints"`
}

// RaceConfig holds race lobby policy and the tracks available per stage.
type RaceConfig struct {
	MinRacers       int `json:"min_racers"`
	MaxRacers       int `json:"max_racers"`
	LobbyMaxWaitSec int `json:"lobby_max_wait_sec"`

	// LobbyIncrementWaitSec is how far each new joiner pushes the lobby
	// deadline, never past lobby_max_wait_sec from the join.
	LobbyIncrementWaitSec int                     `json:"lobby_increment_wait_sec"`
	ReadyTimeoutSec       int                     `json:"ready_timeout_sec"`
	MaxRaceTimeSec        int                     `json:"max_race_time_sec"`
	Tracks                map[int32][]TrackConfig `json:"tracks"`
}

// SecurityConfig holds HTTP surface protection settings.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
	// AdminToken guards /admin routes when set.
	AdminToken string `json:"admin_token"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic_prefix"`
}

// DatabaseConfig holds the race history archive settings.
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
	// PruneTime is the local "HH:MM" at which old races are deleted.
	PruneTime string `json:"prune_time"`
}

// HealthConfig holds periodic check intervals and alert thresholds.
type HealthConfig struct {
	CapacityInterval  int     `json:"capacity_check_interval_sec"`
	DiskInterval      int     `json:"disk_check_interval_sec"`
	HeartbeatInterval int     `json:"heartbeat_interval_sec"`
	CapacityWarnPct   float64 `json:"capacity_warn_percent"`
	MemoryWarnMB      uint64  `json:"memory_warn_mb"`
}

// FilterConfig holds the player name filter settings.
type FilterConfig struct {
	Enabled     bool     `json:"enabled"`
	BannedWords []string `json:"banned_words"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	enc := encounter.DefaultConfig()
	rc := race.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ProtocolVersion: protocol.Version,
			TickRate:        10,
			SyncInterval:    10,
			StatsInterval:   100,
			MaxConnections:  1000,
			SendQueueSize:   256,
			ReadTimeout:     30,
			WriteTimeout:    10,
			PingInterval:    10,
			MaxFrameSize:    64 << 10,
			EnableConsole:   true,
		},
		Encounters: EncounterConfig{
			WindowSec:        int(enc.Window / time.Second),
			ScoreDuration:    enc.ScoreDuration,
			ComboDuration:    enc.ComboDuration,
			GraffitiDuration: enc.GraffitiDuration,
			DefaultDuration:  enc.DefaultDuration,
			GraffitiPool:     enc.GraffitiPool,
			GraffitiPicks:    enc.GraffitiPicks,
		},
		Races: RaceConfig{
			MinRacers:             rc.MinRacers,
			MaxRacers:             rc.MaxRacers,
			LobbyMaxWaitSec:       int(rc.LobbyMaxWait / time.Second),
			LobbyIncrementWaitSec: int(rc.LobbyIncrementWait / time.Second),
			ReadyTimeoutSec:       int(rc.ReadyTimeout / time.Second),
			MaxRaceTimeSec:        int(rc.MaxRaceTime / time.Second),
			Tracks:                map[int32][]TrackConfig{},
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		MQTT: MQTTConfig{
			Port:   8883,
			UseTLS: true,
			Topic:  "slopcrew",
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          filepath.Join("data", "races.db"),
			RetentionDays: 30,
			PruneTime:     "04:00",
		},
		Filter: FilterConfig{
			Enabled: true,
		},
		Health: HealthConfig{
			CapacityInterval:  30,
			DiskInterval:      3600,
			HeartbeatInterval: 60,
			CapacityWarnPct:   90,
			MemoryWarnMB:      1024,
		},
		Logging: util.DefaultLogConfig(),
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json picks up fields added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server section.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetSecurity returns a copy of the security section.
func (c *Config) GetSecurity() SecurityConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Security
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetDatabase returns a copy of the database section.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetFilter returns a copy of the filter section.
func (c *Config) GetFilter() FilterConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Filter
}

// GetHealth returns a copy of the health section.
func (c *Config) GetHealth() HealthConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Health
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() util.LogConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// Redacted returns a copy safe to show operators: secrets are masked.
func (c *Config) Redacted() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	srv := c.Server
	srv.DeveloperHashes = nil
	sec := c.Security
	if sec.AdminToken != "" {
		sec.AdminToken = "********"
	}
	return map[string]interface{}{
		"server":     srv,
		"encounters": c.Encounters,
		"races":      c.Races,
		"security":   sec,
		"mqtt":       c.MQTT,
		"database":   c.Database,
		"filter":     map[string]interface{}{"enabled": c.Filter.Enabled, "banned_words": len(c.Filter.BannedWords)},
		"health":     c.Health,
		"logging":    c.Logging,
	}
}

// RelayConfig converts the file sections into the relay core settings.
func (c *Config) RelayConfig() server.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tracks := make(map[int32][]protocol.RaceConfig, len(c.Races.Tracks))
	for stage, list := range c.Races.Tracks {
		for _, t := range list {
			rc := protocol.RaceConfig{Stage: stage, StartPosition: t.Start.vector()}
			for _, cp := range t.Checkpoints {
				rc.Checkpoints = append(rc.Checkpoints, cp.vector())
			}
			tracks[stage] = append(tracks[stage], rc)
		}
	}

	return server.Config{
		ProtocolVersion: c.Server.ProtocolVersion,
		TickRate:        c.Server.TickRate,
		SyncInterval:    c.Server.SyncInterval,
		StatsInterval:   c.Server.StatsInterval,
		MaxConnections:  c.Server.MaxConnections,
		DeveloperHashes: append([]string(nil), c.Server.DeveloperHashes...),
		Encounters: encounter.Config{
			Window:           seconds(c.Encounters.WindowSec),
			ScoreDuration:    c.Encounters.ScoreDuration,
			ComboDuration:    c.Encounters.ComboDuration,
			GraffitiDuration: c.Encounters.GraffitiDuration,
			DefaultDuration:  c.Encounters.DefaultDuration,
			GraffitiPool:     c.Encounters.GraffitiPool,
			GraffitiPicks:    c.Encounters.GraffitiPicks,
		},
		Races: race.Config{
			MinRacers:          c.Races.MinRacers,
			MaxRacers:          c.Races.MaxRacers,
			LobbyMaxWait:       seconds(c.Races.LobbyMaxWaitSec),
			LobbyIncrementWait: seconds(c.Races.LobbyIncrementWaitSec),
			ReadyTimeout:       seconds(c.Races.ReadyTimeoutSec),
			MaxRaceTime:        seconds(c.Races.MaxRaceTimeSec),
			Tracks:             tracks,
		},
	}
}

// TransportOptions converts the server section into websocket settings.
func (c *Config) TransportOptions() network.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return network.Options{
		SendQueue:    c.Server.SendQueueSize,
		ReadTimeout:  seconds(c.Server.ReadTimeout),
		WriteTimeout: seconds(c.Server.WriteTimeout),
		PingInterval: seconds(c.Server.PingInterval),
		ReadLimit:    c.Server.MaxFrameSize,
	}
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
