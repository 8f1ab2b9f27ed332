package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/slopcrew-project/slopcrew/internal/protocol"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if got := cfg.GetServer().ListenAddr; got != DefaultListenAddr {
		t.Errorf("listen addr = %q", got)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{
  "server": {"tick_rate": 20, "listen_addr": "127.0.0.1:9000"},
  "races": {"tracks": {"4": [{"start_position": {"x": 1, "y": 2, "z": 3}, "checkpoints": [{"x": 4}]}]}}
}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	srv := cfg.GetServer()
	if srv.TickRate != 20 || srv.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("overlay lost: %+v", srv)
	}
	if srv.ReadTimeout != 30 {
		t.Errorf("default read timeout lost: %d", srv.ReadTimeout)
	}

	saved, err := os.ReadFile(filepath.Join(dir, DefaultConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(saved), "send_queue_size") {
		t.Error("re-save did not persist new defaults")
	}

	rc := cfg.RelayConfig()
	want := map[int32][]protocol.RaceConfig{
		4: {{
			Stage:         4,
			StartPosition: protocol.Vector3{X: 1, Y: 2, Z: 3},
			Checkpoints:   []protocol.Vector3{{X: 4}},
		}},
	}
	if diff := cmp.Diff(want, rc.Races.Tracks); diff != "" {
		t.Errorf("tracks (-want +got):\n%s", diff)
	}
	if rc.TickRate != 20 || rc.Encounters.Window != 5*time.Second {
		t.Errorf("relay config = %+v", rc)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTransportOptions(t *testing.T) {
	opts := DefaultConfig().TransportOptions()
	if opts.ReadTimeout != 30*time.Second || opts.SendQueue != 256 || opts.ReadLimit != 64<<10 {
		t.Errorf("options = %+v", opts)
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DeveloperHashes = []string{strings.Repeat("ab", 32)}
	cfg.Security.AdminToken = "hunter2"

	r := cfg.Redacted()
	if got := r["security"].(SecurityConfig).AdminToken; got == "hunter2" {
		t.Error("admin token leaked")
	}
	if got := r["server"].(ServerConfig).DeveloperHashes; got != nil {
		t.Error("developer hashes leaked")
	}
	if cfg.Security.AdminToken != "hunter2" {
		t.Error("redaction modified the live config")
	}
}

func TestValidate(t *testing.T) {
	fields := func(errs []ValidationError) []string {
		var out []string
		for _, e := range errs {
			out = append(out, e.Field)
		}
		return out
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errors []string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "bad listen addr",
			mutate: func(c *Config) { c.Server.ListenAddr = "nope" },
			errors: []string{"server.listen_addr"},
		},
		{
			name:   "tick rate",
			mutate: func(c *Config) { c.Server.TickRate = 0 },
			errors: []string{"server.tick_rate"},
		},
		{
			name:   "developer hash",
			mutate: func(c *Config) { c.Server.DeveloperHashes = []string{"abc"} },
			errors: []string{"server.developer_secret_hashes[0]"},
		},
		{
			name: "race bounds",
			mutate: func(c *Config) {
				c.Races.MinRacers = 3
				c.Races.MaxRacers = 2
			},
			errors: []string{"races.max_racers"},
		},
		{
			name:   "lobby increment",
			mutate: func(c *Config) { c.Races.LobbyIncrementWaitSec = -1 },
			errors: []string{"races.lobby_increment_wait_sec"},
		},
		{
			name:   "graffiti picks",
			mutate: func(c *Config) { c.Encounters.GraffitiPicks = 20 },
			errors: []string{"encounters.graffiti_spot_picks"},
		},
		{
			name: "mqtt without broker",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
			},
			errors: []string{"mqtt.broker_url"},
		},
		{
			name: "database without path",
			mutate: func(c *Config) {
				c.Database.Path = " "
			},
			errors: []string{"database.path"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			res := Validate(cfg)
			if diff := cmp.Diff(tt.errors, fields(res.Errors)); diff != "" {
				t.Errorf("errors (-want +got):\n%s", diff)
			}
			if res.IsValid() != (len(tt.errors) == 0) {
				t.Errorf("IsValid = %v", res.IsValid())
			}
		})
	}
}

func TestValidateWarnsOnNoTracks(t *testing.T) {
	res := Validate(DefaultConfig())
	for _, w := range res.Warnings {
		if w.Field == "races.tracks" {
			return
		}
	}
	t.Error("missing races.tracks warning")
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in           string
		hour, minute int
		ok           bool
	}{
		{"04:00", 4, 0, true},
		{" 23:59 ", 23, 59, true},
		{"24:00", 0, 0, false},
		{"4pm", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		h, m, ok := ParseClock(tt.in)
		if h != tt.hour || m != tt.minute || ok != tt.ok {
			t.Errorf("ParseClock(%q) = %d, %d, %v", tt.in, h, m, ok)
		}
	}
}
