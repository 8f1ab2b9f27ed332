package race

import (
	"sort"
	"time"
)

// State is the lifecycle phase of a race session.
type State int

// A session is Initialized when formed, ReadyPending once any member has
// reported ready, Started when every remaining member is ready and Finished
// when ranked or cancelled.
const (
	StateInitialized State = iota
	StateReadyPending
	StateStarted
	StateFinished
)

var stateStrings = map[State]string{
	StateInitialized:  "initialized",
	StateReadyPending: "ready_pending",
	StateStarted:      "started",
	StateFinished:     "finished",
}

// String returns the string representation of State.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "unknown"
}

func (s State) awaitingReady() bool {
	return s == StateInitialized || s == StateReadyPending
}

// MarshalJSON serializes State as a JSON string (e.g. "started").
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// SessionInfo is a point-in-time view of one race session.
type SessionInfo struct {
	ID       string    `json:"id"`
	Stage    int32     `json:"stage"`
	State    State     `json:"state"`
	Racers   int       `json:"racers"`
	Ready    int       `json:"ready"`
	Finished int       `json:"finished"`
	Created  time.Time `json:"created"`
}

// Sessions lists live sessions ordered by creation time.
func (c *Coordinator) Sessions() []SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		info := SessionInfo{
			ID:      s.id,
			Stage:   s.stage,
			State:   s.state,
			Racers:  len(s.members),
			Created: s.createdAt,
		}
		for _, m := range s.members {
			if m.ready {
				info.Ready++
			}
			if m.finished {
				info.Finished++
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Created.Equal(infos[j].Created) {
			return infos[i].Created.Before(infos[j].Created)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Pooled returns the number of waiting requesters per stage.
func (c *Coordinator) Pooled() map[int32]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int32]int, len(c.pools))
	for stage, l := range c.pools {
		out[stage] = len(l.racers)
	}
	return out
}

// InRace reports whether id belongs to a live session.
func (c *Coordinator) InRace(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byPlayer[id] != nil
}
