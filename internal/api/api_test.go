package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/slopcrew-project/slopcrew/internal/config"
	"github.com/slopcrew-project/slopcrew/internal/db"
	"github.com/slopcrew-project/slopcrew/internal/network"
	"github.com/slopcrew-project/slopcrew/internal/protocol"
	"github.com/slopcrew-project/slopcrew/internal/server"
	"github.com/slopcrew-project/slopcrew/internal/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type idleTransport struct{ closed chan struct{} }

func newIdleTransport() *idleTransport {
	return &idleTransport{closed: make(chan struct{})}
}

func (t *idleTransport) ReadMessage() ([]byte, error) {
	<-t.closed
	return nil, network.ErrClosed
}

func (t *idleTransport) Enqueue([]byte) bool { return true }
func (t *idleTransport) Close() error        { return nil }
func (t *idleTransport) RemoteAddr() string  { return "192.0.2.7" }

type fakeRaces struct {
	limit   int
	records []db.RaceRecord
}

func (f *fakeRaces) Recent(_ context.Context, limit int) ([]db.RaceRecord, error) {
	f.limit = limit
	return f.records, nil
}

type fakeKicks struct{ addr string }

func (f *fakeKicks) ByAddress(_ context.Context, addr string) ([]db.Kick, error) {
	f.addr = addr
	return []db.Kick{{ID: 1, PlayerID: 4, Name: "Vinyl", Address: addr, Reason: "spam"}}, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Security.AdminToken = "letmein"
	cfg.Security.RateLimitRPS = 0
	if mutate != nil {
		mutate(cfg)
	}
	relay := server.New(cfg.RelayConfig())
	t.Cleanup(relay.Shutdown)
	return NewServer(cfg, relay)
}

func do(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
	return out
}

func TestPing(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/api/public/ping", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := decode(t, w)["status"]; got != "ok" {
		t.Errorf("status field = %v", got)
	}
}

func TestMetricsCountsConnections(t *testing.T) {
	s := newTestServer(t, nil)
	if _, err := s.relay.Accept(newIdleTransport()); err != nil {
		t.Fatal(err)
	}
	w := do(t, s, http.MethodGet, "/metrics", "")
	want := map[string]interface{}{"connections": 1.0, "population": 0.0}
	if diff := cmp.Diff(want, decode(t, w)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestServerInfo(t *testing.T) {
	s := newTestServer(t, nil)
	body := decode(t, do(t, s, http.MethodGet, "/api/public/server_info", ""))
	if body["protocol_version"] != float64(protocol.Version) {
		t.Errorf("protocol_version = %v", body["protocol_version"])
	}
	if body["tick_rate"] != 10.0 {
		t.Errorf("tick_rate = %v", body["tick_rate"])
	}
	if _, err := util.GetMemoryUsage(); err == nil {
		if _, ok := body["memory"].(map[string]interface{}); !ok {
			t.Errorf("memory = %v", body["memory"])
		}
	}
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusForbidden},
		{"letmein", http.StatusOK},
	}
	for _, tt := range tests {
		if w := do(t, s, http.MethodGet, "/admin/players", tt.token); w.Code != tt.want {
			t.Errorf("token %q: status = %d, want %d", tt.token, w.Code, tt.want)
		}
	}
}

func TestAdminOpenWithoutToken(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Security.AdminToken = "" })
	if w := do(t, s, http.MethodGet, "/admin/players", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestKickErrors(t *testing.T) {
	s := newTestServer(t, nil)
	if w := do(t, s, http.MethodPost, "/admin/players/abc/kick", "letmein"); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/admin/players/42/kick", "letmein"); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d", w.Code)
	}
}

func TestRecentRaces(t *testing.T) {
	s := newTestServer(t, nil)
	if w := do(t, s, http.MethodGet, "/api/races/recent", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no archive: status = %d", w.Code)
	}

	races := &fakeRaces{}
	s.SetArchives(races, nil)

	w := do(t, s, http.MethodGet, "/api/races/recent", "")
	if w.Code != http.StatusOK || races.limit != defaultRecentRaces {
		t.Errorf("default: status = %d limit = %d", w.Code, races.limit)
	}
	if got := decode(t, w)["races"]; got == nil {
		t.Error("races is null, want empty list")
	}

	do(t, s, http.MethodGet, "/api/races/recent?limit=500", "")
	if races.limit != maxRecentRaces {
		t.Errorf("limit = %d, want %d", races.limit, maxRecentRaces)
	}
	if w := do(t, s, http.MethodGet, "/api/races/recent?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", w.Code)
	}
}

func TestKicksByAddress(t *testing.T) {
	s := newTestServer(t, nil)
	kicks := &fakeKicks{}
	s.SetArchives(nil, kicks)

	if w := do(t, s, http.MethodGet, "/admin/kicks", "letmein"); w.Code != http.StatusBadRequest {
		t.Errorf("no address: status = %d", w.Code)
	}
	w := do(t, s, http.MethodGet, "/admin/kicks?address=198.51.100.2", "letmein")
	if w.Code != http.StatusOK || kicks.addr != "198.51.100.2" {
		t.Errorf("status = %d addr = %q", w.Code, kicks.addr)
	}
	if got := decode(t, w)["count"]; got != 1.0 {
		t.Errorf("count = %v", got)
	}
}

func TestConfigIsRedacted(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/admin/config", "letmein")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "letmein") {
		t.Error("admin token leaked")
	}
}

func TestStagesAndLiveRaces(t *testing.T) {
	s := newTestServer(t, nil)
	body := decode(t, do(t, s, http.MethodGet, "/api/stages", ""))
	if _, ok := body["players"]; !ok {
		t.Errorf("stages body = %v", body)
	}
	body = decode(t, do(t, s, http.MethodGet, "/api/races/live", ""))
	if body["count"] != 0.0 {
		t.Errorf("live races = %v", body)
	}
}

func TestTickLag(t *testing.T) {
	s := newTestServer(t, nil)
	s.relay.Lag().Observe(3, time.Now(), time.Second)
	body := decode(t, do(t, s, http.MethodGet, "/api/ticks/lag", ""))
	if body["total_events"] != 1.0 || body["budget_ms"] != 100.0 {
		t.Errorf("lag = %v", body)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	if w := do(t, s, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Security.RateLimitRPS = 1
		c.Security.RateLimitBurst = 1
	})
	if w := do(t, s, http.MethodGet, "/api/public/ping", ""); w.Code != http.StatusOK {
		t.Fatalf("first: status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/public/ping", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second: status = %d", w.Code)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	if !rl.Allow("192.0.2.1", now) || rl.Allow("192.0.2.1", now) {
		t.Error("first client not limited after burst")
	}
	if !rl.Allow("192.0.2.2", now) {
		t.Error("second client limited by first")
	}
	if !rl.Allow("192.0.2.1", now.Add(time.Second)) {
		t.Error("bucket did not refill")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearerabc":  "",
		"Bearer a b": "a b",
	}
	for in, want := range tests {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWebSocketRefusedWhenFull(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxConnections = 1 })
	if _, err := s.relay.Accept(newIdleTransport()); err != nil {
		t.Fatal(err)
	}
	if w := do(t, s, http.MethodGet, "/ws", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
}

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// awaitPong reads frames until the Pong for id arrives.
func awaitPong(t *testing.T, ws *websocket.Conn, id uint32) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if pong, ok := msg.(*protocol.Pong); ok && pong.ID == id {
			return
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	s := newTestServer(t, nil)
	ws := dial(t, s)

	hello := &protocol.Hello{Player: protocol.Player{Name: "Red", Stage: 5}}
	if err := ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(hello)); err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(&protocol.Ping{ID: 9})); err != nil {
		t.Fatal(err)
	}
	awaitPong(t, ws, 9)

	w := do(t, s, http.MethodGet, "/admin/players", "letmein")
	want := `[{"name":"Red","stage":5}]`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("players = %s, want %s", got, want)
	}

	players := s.relay.Registry().Players()
	if len(players) != 1 {
		t.Fatalf("players = %v", players)
	}
	path := "/admin/players/" + strconv.FormatUint(uint64(players[0].ID), 10) + "/kick"
	if w := do(t, s, http.MethodPost, path, "letmein"); w.Code != http.StatusOK {
		t.Fatalf("kick: status = %d", w.Code)
	}

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.relay.Registry().Stats().Connections != 0 {
		if time.Now().After(deadline) {
			t.Fatal("kicked session still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
