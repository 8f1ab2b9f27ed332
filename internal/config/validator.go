package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateEncounters(&cfg.Encounters, result)
	validateRaces(&cfg.Races, result)
	validateSecurity(&cfg.Security, result)

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
		if (cfg.MQTT.CertFile == "") != (cfg.MQTT.KeyFile == "") {
			result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
		}
	}

	if cfg.Database.Enabled {
		if strings.TrimSpace(cfg.Database.Path) == "" {
			result.AddError("database.path", "database path is required when enabled")
		}
		if _, _, ok := ParseClock(cfg.Database.PruneTime); !ok {
			result.AddError("database.prune_time", fmt.Sprintf("invalid time %q, expected HH:MM", cfg.Database.PruneTime))
		}
		if cfg.Database.RetentionDays < 1 {
			result.AddWarning("database.retention_days", "race history is never pruned")
		}
	}

	if cfg.Health.CapacityWarnPct <= 0 || cfg.Health.CapacityWarnPct > 100 {
		result.AddError("health.capacity_warn_percent", "must be in (0, 100]")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		result.AddWarning("logging.level", fmt.Sprintf("unknown level %q, info will be used", cfg.Logging.Level))
	}

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	if _, port, err := net.SplitHostPort(s.ListenAddr); err != nil {
		result.AddError("server.listen_addr", fmt.Sprintf("invalid listen address %q: %v", s.ListenAddr, err))
	} else if port == "" {
		result.AddError("server.listen_addr", "listen address needs a port")
	}

	if s.TickRate < 1 || s.TickRate > 120 {
		result.AddError("server.tick_rate", fmt.Sprintf("tick rate %d out of range (1-120)", s.TickRate))
	}
	if s.SyncInterval < 1 {
		result.AddError("server.sync_interval_ticks", "must be at least 1")
	}
	if s.StatsInterval < 0 {
		result.AddError("server.stats_interval_ticks", "must not be negative")
	}
	if s.MaxConnections <= 0 {
		result.AddWarning("server.max_connections", "no connection limit is enforced")
	}
	if s.SendQueueSize < 1 {
		result.AddError("server.send_queue_size", "must be at least 1")
	}
	if s.ReadTimeout < 1 {
		result.AddError("server.read_timeout_sec", "must be at least 1 second")
	}
	if s.PingInterval >= s.ReadTimeout {
		result.AddWarning("server.ping_interval_sec",
			"ping interval should be shorter than the read timeout or idle peers will be dropped")
	}
	if s.MaxFrameSize < 1024 {
		result.AddWarning("server.max_frame_bytes", "frame limit below 1 KiB will reject ordinary hellos")
	}

	for i, h := range s.DeveloperHashes {
		if b, err := hex.DecodeString(h); err != nil || len(b) != 32 {
			result.AddError(fmt.Sprintf("server.developer_secret_hashes[%d]", i),
				"must be a hex encoded SHA-256 digest")
		}
	}
}

func validateEncounters(e *EncounterConfig, result *ValidationResult) {
	if e.WindowSec < 1 {
		result.AddError("encounters.request_window_sec", "must be at least 1 second")
	}
	for field, d := range map[string]int32{
		"encounters.score_duration_sec":    e.ScoreDuration,
		"encounters.combo_duration_sec":    e.ComboDuration,
		"encounters.graffiti_duration_sec": e.GraffitiDuration,
		"encounters.default_duration_sec":  e.DefaultDuration,
	} {
		if d < 1 {
			result.AddError(field, "duration must be at least 1 second")
		}
	}
	if e.GraffitiPicks < 0 || e.GraffitiPicks > e.GraffitiPool {
		result.AddError("encounters.graffiti_spot_picks",
			fmt.Sprintf("picks (%d) must be between 0 and the pool size (%d)", e.GraffitiPicks, e.GraffitiPool))
	}
}

func validateRaces(r *RaceConfig, result *ValidationResult) {
	if r.MinRacers < 2 {
		result.AddError("races.min_racers", "a race needs at least 2 racers")
	}
	if r.MaxRacers < r.MinRacers {
		result.AddError("races.max_racers", "must not be less than min_racers")
	}
	if r.LobbyMaxWaitSec < 1 {
		result.AddError("races.lobby_max_wait_sec", "must be at least 1 second")
	}
	if r.LobbyIncrementWaitSec < 0 {
		result.AddError("races.lobby_increment_wait_sec", "must not be negative")
	}
	if r.ReadyTimeoutSec < 1 {
		result.AddError("races.ready_timeout_sec", "must be at least 1 second")
	}
	if r.MaxRaceTimeSec < 1 {
		result.AddError("races.max_race_time_sec", "must be at least 1 second")
	}
	if len(r.Tracks) == 0 {
		result.AddWarning("races.tracks", "no tracks configured, every race request will be refused")
	}
	for stage, list := range r.Tracks {
		if len(list) == 0 {
			result.AddWarning(fmt.Sprintf("races.tracks.%d", stage), "stage listed without tracks")
		}
	}
}

func validateSecurity(s *SecurityConfig, result *ValidationResult) {
	if s.RateLimitRPS < 1 {
		result.AddWarning("security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	} else if s.RateLimitBurst < 1 {
		result.AddError("security.rate_limit_burst", "burst must be at least 1 when rate limiting")
	}
	if len(s.AllowedOrigins) == 0 {
		result.AddWarning("security.allowed_origins", "only same-host and origin-less upgrades will be accepted")
	}
	if s.AdminToken == "" {
		result.AddWarning("security.admin_token", "admin routes are unauthenticated")
	}
}

// ParseClock parses a local "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
