package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestBridgeConfig_Defaults(t *testing.T) {
	cfg := &BridgeConfig{}

	if got := cfg.GetSerialNumber(); got != "24:58:7C:D3:68:AC" {
		t.Errorf("GetSerialNumber() = %q", got)
	}
	if got := cfg.GetBaudRate(); got != 115200 {
		t.Errorf("GetBaudRate() = %d, want 115200", got)
	}
	if got := cfg.GetChunkSize(); got != 32 {
		t.Errorf("GetChunkSize() = %d, want 32", got)
	}

	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"read_timeout", cfg.GetReadTimeout(), time.Second},
		{"start_settle", cfg.GetStartSettle(), 500 * time.Millisecond},
		{"chunk_delay", cfg.GetChunkDelay(), 100 * time.Millisecond},
		{"drain_delay", cfg.GetDrainDelay(), 100 * time.Millisecond},
		{"post_send_settle", cfg.GetPostSendSettle(), time.Second},
		{"initial_delay", cfg.GetInitialDelay(), time.Second},
		{"send_interval", cfg.GetSendInterval(), 30 * time.Second},
		{"poll_interval", cfg.GetPollInterval(), 100 * time.Millisecond},
	}
	for _, d := range durations {
		if d.got != d.want {
			t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
		}
	}
	if cfg.GetPortPath() != "" || cfg.GetDBPath() != "" || cfg.GetListen() != "" {
		t.Error("optional surfaces should default to empty")
	}
}

func TestLoadBridgeConfig(t *testing.T) {
	path := writeConfig(t, "hostlink.json", `{
  "serial_number": "AA:BB:CC:DD:EE:FF",
  "baud_rate": 9600,
  "send_interval": "10s",
  "chunk_size": 16,
  "db_path": "history.db"
}`)

	cfg, err := LoadBridgeConfig(path)
	if err != nil {
		t.Fatalf("LoadBridgeConfig() error = %v", err)
	}

	if got := cfg.GetSerialNumber(); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("GetSerialNumber() = %q", got)
	}
	if got := cfg.GetBaudRate(); got != 9600 {
		t.Errorf("GetBaudRate() = %d", got)
	}
	if got := cfg.GetSendInterval(); got != 10*time.Second {
		t.Errorf("GetSendInterval() = %v", got)
	}
	if got := cfg.GetChunkSize(); got != 16 {
		t.Errorf("GetChunkSize() = %d", got)
	}
	if got := cfg.GetDBPath(); got != "history.db" {
		t.Errorf("GetDBPath() = %q", got)
	}
	// untouched fields keep their defaults
	if got := cfg.GetPollInterval(); got != 100*time.Millisecond {
		t.Errorf("GetPollInterval() = %v", got)
	}
}

func TestLoadBridgeConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "hostlink.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{"baud_rate":`, "failed to parse"},
		{"bad duration", "dur.json", `{"send_interval":"soon"}`, "invalid send_interval"},
		{"negative duration", "neg.json", `{"chunk_delay":"-1s"}`, "must not be negative"},
		{"zero chunk", "chunk.json", `{"chunk_size":0}`, "chunk_size must be positive"},
		{"blank serial", "serial.json", `{"serial_number":"  "}`, "serial_number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadBridgeConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadBridgeConfig_Missing(t *testing.T) {
	if _, err := LoadBridgeConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := LoadBridgeConfig(filepath.Join("..", "..", "config", "hostlink.example.json"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	defaults := &BridgeConfig{}
	checks := []struct {
		name      string
		got, want interface{}
	}{
		{"serial", cfg.GetSerialNumber(), defaults.GetSerialNumber()},
		{"baud", cfg.GetBaudRate(), defaults.GetBaudRate()},
		{"chunk", cfg.GetChunkSize(), defaults.GetChunkSize()},
		{"start settle", cfg.GetStartSettle(), defaults.GetStartSettle()},
		{"post-send settle", cfg.GetPostSendSettle(), defaults.GetPostSendSettle()},
		{"interval", cfg.GetSendInterval(), defaults.GetSendInterval()},
		{"poll", cfg.GetPollInterval(), defaults.GetPollInterval()},
		{"read timeout", cfg.GetReadTimeout(), defaults.GetReadTimeout()},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: example has %v, default is %v", c.name, c.got, c.want)
		}
	}
}
