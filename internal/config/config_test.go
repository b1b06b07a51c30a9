package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("servers: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Sweep.ServerLogInterval != DefaultSweepInterval {
		t.Errorf("ServerLogInterval = %v, want %v", cfg.Sweep.ServerLogInterval, DefaultSweepInterval)
	}
	if cfg.Sweep.DeathLogInterval != DefaultSweepInterval {
		t.Errorf("DeathLogInterval = %v, want %v", cfg.Sweep.DeathLogInterval, DefaultSweepInterval)
	}
	if cfg.Sweep.ReadTimeout != DefaultReadTimeout {
		t.Errorf("ReadTimeout = %v, want %v", cfg.Sweep.ReadTimeout, DefaultReadTimeout)
	}
	if cfg.Sweep.KillReward != DefaultKillReward {
		t.Errorf("KillReward = %d, want %d", cfg.Sweep.KillReward, DefaultKillReward)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.NATS.SubjectPrefix != "killfeed" {
		t.Errorf("SubjectPrefix = %q, want killfeed", cfg.NATS.SubjectPrefix)
	}
	if cfg.NATS.Enabled() {
		t.Error("NATS should be disabled without url or embedded")
	}
}

func TestLoadIndependentIntervals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
sweep:
  server_log_interval: 30s
  death_log_interval: 2m
  workers: 8
nats:
  embedded: true
servers:
  - name: eu-1
    endpoint: /srv/scum/eu-1
    log_path: SCUM/Saved/Logs/SCUM.log
    death_log_dir: SCUM/Saved/SaveFiles/Logs
    log_channel: "1234"
    killfeed_channel: "5678"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sweep.ServerLogInterval != 30*time.Second {
		t.Errorf("ServerLogInterval = %v, want 30s", cfg.Sweep.ServerLogInterval)
	}
	if cfg.Sweep.DeathLogInterval != 2*time.Minute {
		t.Errorf("DeathLogInterval = %v, want 2m", cfg.Sweep.DeathLogInterval)
	}
	if cfg.Sweep.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Sweep.Workers)
	}
	if !cfg.NATS.Enabled() || cfg.NATS.Port != 4222 {
		t.Errorf("embedded NATS defaults not applied: %+v", cfg.NATS)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].KillfeedChannel != "5678" {
		t.Fatalf("Servers = %+v", cfg.Servers)
	}
}

func TestParseRejectsInvalidServers(t *testing.T) {
	content := `
servers:
  - name: eu-1
    endpoint: /srv/a
  - name: eu-1
    log_path: SCUM.log
`
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_path or death_log_dir", "endpoint is required", "duplicate name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestParseRejectsShortInterval(t *testing.T) {
	_, err := Parse([]byte("sweep:\n  server_log_interval: 10ms\n"))
	if err == nil || !strings.Contains(err.Error(), "server_log_interval") {
		t.Fatalf("err = %v, want interval validation error", err)
	}
}
