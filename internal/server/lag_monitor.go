package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/slopcrew-project/slopcrew/internal/events"
)

// Long tick thresholds, counted over the last hour.
const (
	LagWarningThreshold  = 10
	LagCriticalThreshold = 50

	lagHistoryLimit = 1000
)

// LagMonitor tracks ticks whose processing overran the tick interval.
type LagMonitor struct {
	mu     sync.RWMutex
	bus    *events.EventBus
	budget time.Duration
	data   LagData

	warningThreshold  int
	criticalThreshold int
}

// LagData is the long tick summary exposed on the API.
type LagData struct {
	Ticks          uint64     `json:"ticks"`
	TotalEvents    int        `json:"total_events"`
	EventsThisHour int        `json:"events_this_hour"`
	LastEventTime  time.Time  `json:"last_event_time"`
	BudgetMS       float64    `json:"budget_ms"`
	MaxDurationMS  float64    `json:"max_duration_ms"`
	AvgDurationMS  float64    `json:"avg_duration_ms"`
	History        []LagEvent `json:"history"`
}

// LagEvent is one overrunning tick.
type LagEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Tick       uint64    `json:"tick"`
	DurationMS float64   `json:"duration_ms"`
}

// LagAlert represents a lag threshold alert.
type LagAlert struct {
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// NewLagMonitor creates a monitor flagging ticks slower than budget.
func NewLagMonitor(bus *events.EventBus, budget time.Duration) *LagMonitor {
	return &LagMonitor{
		bus:               bus,
		budget:            budget,
		data:              LagData{BudgetMS: ms(budget)},
		warningThreshold:  LagWarningThreshold,
		criticalThreshold: LagCriticalThreshold,
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Observe records how long tick took to process, starting at now.
func (lm *LagMonitor) Observe(tick uint64, now time.Time, took time.Duration) {
	lm.mu.Lock()
	lm.data.Ticks++
	if took <= lm.budget {
		lm.mu.Unlock()
		return
	}

	data := &lm.data
	e := LagEvent{Timestamp: now, Tick: tick, DurationMS: ms(took)}
	data.TotalEvents++
	data.LastEventTime = now
	data.History = append(data.History, e)
	if e.DurationMS > data.MaxDurationMS {
		data.MaxDurationMS = e.DurationMS
	}

	// Trim history to the most recent events
	if len(data.History) > lagHistoryLimit {
		data.History = data.History[len(data.History)-lagHistoryLimit:]
	}

	total := 0.0
	for _, h := range data.History {
		total += h.DurationMS
	}
	data.AvgDurationMS = total / float64(len(data.History))
	data.EventsThisHour = lm.eventsSince(now.Add(-time.Hour))
	lm.mu.Unlock()

	lm.bus.Publish(events.EventLongTick, "lag_monitor", events.LongTickPayload{
		Tick:       tick,
		DurationMS: e.DurationMS,
		BudgetMS:   ms(lm.budget),
	})
}

// eventsSince counts history entries after t. mu must be held.
func (lm *LagMonitor) eventsSince(t time.Time) int {
	n := 0
	for _, e := range lm.data.History {
		if e.Timestamp.After(t) {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of the current lag data.
func (lm *LagMonitor) Snapshot() LagData {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	out := lm.data
	out.History = append([]LagEvent(nil), lm.data.History...)
	return out
}

// CheckThresholds evaluates the last hour of long ticks. ok is false when
// no threshold is crossed.
func (lm *LagMonitor) CheckThresholds(now time.Time) (alert LagAlert, ok bool) {
	lm.mu.RLock()
	n := lm.eventsSince(now.Add(-time.Hour))
	lm.mu.RUnlock()

	switch {
	case n >= lm.criticalThreshold:
		alert.Level = "critical"
	case n >= lm.warningThreshold:
		alert.Level = "warning"
	default:
		return LagAlert{}, false
	}
	alert.Events = n
	alert.Message = fmt.Sprintf("%d ticks overran %.0fms in the last hour", n, ms(lm.budget))
	return alert, true
}
