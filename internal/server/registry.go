package server

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/slopcrew-project/slopcrew/internal/protocol"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

// Registry indexes connections, active players and stages. Structural
// changes happen under mu; when a connection's own lock is also needed it
// is always taken after mu.
type Registry struct {
	mu      sync.RWMutex
	nextID  uint32
	conns   map[*Connection]struct{}
	players map[uint32]*Connection
	stages  map[int32]map[*Connection]struct{}
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry. IDs start at 1.
func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[*Connection]struct{}),
		players: make(map[uint32]*Connection),
		stages:  make(map[int32]map[*Connection]struct{}),
		logger:  util.ComponentLogger("registry"),
	}
}

// Stats is the registry size summary exposed on /metrics.
type Stats struct {
	Connections int `json:"connections"`
	Population  int `json:"population"`
}

// PlayerInfo is the admin view of one active player.
type PlayerInfo struct {
	ID          uint32 `json:"id"`
	Name        string `json:"name"`
	Stage       int32  `json:"stage"`
	IsDeveloper bool   `json:"is_developer"`
	Address     string `json:"address"`
}

// Add records a newly accepted connection unless limit (when positive)
// connections are already present.
func (r *Registry) Add(c *Connection, limit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > 0 && len(r.conns) >= limit {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

// TrackResult tells the handler what a Track call changed.
type TrackResult struct {
	ID        uint32
	First     bool
	Moved     bool
	PrevStage int32
}

// Track registers c with player p, or re-registers it if it already said
// hello. The connection keeps the ID it was first given. PlayersUpdate is
// sent to the new stage, and to the old one on a stage change.
func (r *Registry) Track(c *Connection, p protocol.Player) (TrackResult, bool) {
	r.mu.Lock()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		r.mu.Unlock()
		return TrackResult{}, false
	}
	res := TrackResult{ID: c.player.ID, PrevStage: c.player.Stage}
	wasActive := c.state == StateActive
	if res.ID == 0 {
		r.nextID++
		res.ID = r.nextID
		res.First = true
	}
	p.ID = res.ID
	c.player = p
	c.state = StateActive
	c.mu.Unlock()

	r.players[res.ID] = c
	res.Moved = wasActive && res.PrevStage != p.Stage
	if res.Moved {
		r.leaveStage(c, res.PrevStage)
	}
	r.joinStage(c, p.Stage)

	var updates []stageUpdate
	if res.Moved {
		updates = append(updates, r.playersUpdates(res.PrevStage)...)
	}
	updates = append(updates, r.playersUpdates(p.Stage)...)
	r.mu.Unlock()

	if res.Moved {
		r.logger.Debug().
			Uint32("player", res.ID).
			Int32("from", res.PrevStage).
			Int32("to", p.Stage).
			Msg("player changed stage")
	}
	sendUpdates(updates)
	return res, true
}

// Untrack removes c from every index and updates the stage it left.
func (r *Registry) Untrack(c *Connection) {
	r.mu.Lock()
	delete(r.conns, c)

	id, stage := c.PlayerID(), c.Stage()
	if id == 0 || r.players[id] != c {
		r.mu.Unlock()
		return
	}
	delete(r.players, id)
	r.leaveStage(c, stage)
	updates := r.playersUpdates(stage)
	r.mu.Unlock()

	r.logger.Debug().Uint32("player", id).Int32("stage", stage).Msg("player untracked")
	sendUpdates(updates)
}

func (r *Registry) joinStage(c *Connection, stage int32) {
	set, ok := r.stages[stage]
	if !ok {
		set = make(map[*Connection]struct{})
		r.stages[stage] = set
	}
	set[c] = struct{}{}
}

func (r *Registry) leaveStage(c *Connection, stage int32) {
	set, ok := r.stages[stage]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.stages, stage)
	}
}

type stageUpdate struct {
	to    *Connection
	frame []byte
}

// playersUpdates builds one PlayersUpdate per member of stage, each listing
// everyone else there. mu must be held.
func (r *Registry) playersUpdates(stage int32) []stageUpdate {
	set := r.stages[stage]
	if len(set) == 0 {
		return nil
	}

	members := make([]*Connection, 0, len(set))
	for c := range set {
		members = append(members, c)
	}
	players := make([]protocol.Player, len(members))
	for i, c := range members {
		players[i] = c.Player()
	}
	// Stable order keeps client lists from reshuffling.
	sort.Slice(members, func(i, j int) bool { return members[i].PlayerID() < members[j].PlayerID() })
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	updates := make([]stageUpdate, 0, len(members))
	for i, c := range members {
		others := make([]protocol.Player, 0, len(players)-1)
		others = append(others, players[:i]...)
		others = append(others, players[i+1:]...)
		updates = append(updates, stageUpdate{
			to:    c,
			frame: protocol.Encode(&protocol.PlayersUpdate{Players: others}),
		})
	}
	return updates
}

func sendUpdates(updates []stageUpdate) {
	for _, u := range updates {
		u.to.sendFrame(u.frame)
	}
}

// BroadcastInStage sends msg to every active player on sender's stage
// except sender. The message is encoded once.
func (r *Registry) BroadcastInStage(sender *Connection, msg protocol.Message) {
	frame := protocol.Encode(msg)
	stage := sender.Stage()

	r.mu.RLock()
	set := r.stages[stage]
	targets := make([]*Connection, 0, len(set))
	for c := range set {
		if c != sender {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.sendFrame(frame)
	}
}

// Broadcast sends msg to every active player.
func (r *Registry) Broadcast(msg protocol.Message) {
	frame := protocol.Encode(msg)
	for _, c := range r.Active() {
		c.sendFrame(frame)
	}
}

// Lookup returns the active connection for player id.
func (r *Registry) Lookup(id uint32) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.players[id]
	return c, ok
}

// Active returns every connection that completed the handshake.
func (r *Registry) Active() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.players))
	for _, c := range r.players {
		out = append(out, c)
	}
	return out
}

// Snapshot returns every accepted connection.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Stats returns the connection and player counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Connections: len(r.conns), Population: len(r.players)}
}

// Stages returns the number of players on each occupied stage.
func (r *Registry) Stages() map[int32]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int32]int, len(r.stages))
	for stage, set := range r.stages {
		out[stage] = len(set)
	}
	return out
}

// Players lists active players ordered by ID.
func (r *Registry) Players() []PlayerInfo {
	active := r.Active()
	out := make([]PlayerInfo, 0, len(active))
	for _, c := range active {
		p := c.Player()
		out = append(out, PlayerInfo{
			ID:          p.ID,
			Name:        p.Name,
			Stage:       p.Stage,
			IsDeveloper: p.IsDeveloper,
			Address:     c.RemoteAddr(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
