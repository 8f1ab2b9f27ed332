// Package events defines the relay's observable events and the bus that
// delivers them to observers (telemetry, race archive, console).
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Player lifecycle
	EventPlayerJoined  EventType = "player_joined"
	EventPlayerLeft    EventType = "player_left"
	EventPlayerKicked  EventType = "player_kicked"
	EventStageChanged  EventType = "stage_changed"
	EventVersionReject EventType = "version_rejected"

	// Social protocols
	EventEncounterStarted EventType = "encounter_started"
	EventRaceFormed       EventType = "race_formed"
	EventRaceStarted      EventType = "race_started"
	EventRaceRanked       EventType = "race_ranked"
	EventRaceCancelled    EventType = "race_cancelled"

	// System
	EventPopulation  EventType = "population"
	EventHeartbeat   EventType = "heartbeat"
	EventHealthAlert EventType = "health_alert"
	EventLongTick    EventType = "long_tick"
	EventShutdown    EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerPayload describes a player joining, leaving or changing stage.
type PlayerPayload struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Stage       int32  `json:"stage"`
	PrevStage   int32  `json:"prev_stage,omitempty"`
	IsDeveloper bool   `json:"is_developer,omitempty"`
}

// KickPayload is attached to EventPlayerKicked.
type KickPayload struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// VersionRejectPayload is attached to EventVersionReject.
type VersionRejectPayload struct {
	Address string `json:"address"`
	Got     uint32 `json:"got"`
	Want    uint32 `json:"want"`
}

// EncounterPayload is attached to EventEncounterStarted.
type EncounterPayload struct {
	Type     string    `json:"type"`
	Players  [2]uint32 `json:"players"`
	Stage    int32     `json:"stage"`
	Duration int32     `json:"duration"`
}

// RacePayload is attached to race_formed, race_started and race_cancelled.
type RacePayload struct {
	RaceID       string   `json:"race_id"`
	Stage        int32    `json:"stage"`
	Participants []uint32 `json:"participants"`
}

// RaceResult is one ranked finisher.
type RaceResult struct {
	PlayerID uint32  `json:"player_id"`
	Name     string  `json:"name"`
	Rank     int32   `json:"rank"`
	Time     float32 `json:"time"`
}

// RaceRankedPayload is attached to EventRaceRanked.
type RaceRankedPayload struct {
	RaceID    string       `json:"race_id"`
	Stage     int32        `json:"stage"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   time.Time    `json:"ended_at"`
	Results   []RaceResult `json:"results"`
}

// PopulationPayload is emitted periodically with registry counts.
type PopulationPayload struct {
	Connections int           `json:"connections"`
	Population  int           `json:"population"`
	Stages      map[int32]int `json:"stages"`
}

// HeartbeatPayload is the periodic liveness summary.
type HeartbeatPayload struct {
	Connections int     `json:"connections"`
	Population  int     `json:"population"`
	Tick        uint64  `json:"tick"`
	RSSMB       uint64  `json:"rss_mb"`
	Goroutines  int     `json:"goroutines"`
	UptimeSec   int64   `json:"uptime_sec"`
	CPUPercent  float64 `json:"cpu_percent"`
}

// HealthAlertPayload reports a check crossing a threshold.
type HealthAlertPayload struct {
	Check   string `json:"check"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// LongTickPayload is attached to EventLongTick.
type LongTickPayload struct {
	Tick       uint64  `json:"tick"`
	DurationMS float64 `json:"duration_ms"`
	BudgetMS   float64 `json:"budget_ms"`
}
