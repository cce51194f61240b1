package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultSerialNumber is the USB serial number reported by the peripheral.
const DefaultSerialNumber = "24:58:7C:D3:68:AC"

// BridgeConfig is the on-disk configuration for hostlink. Every field is
// optional; the Get* accessors fall back to the built-in defaults so a
// partial file (or none at all) is valid.
type BridgeConfig struct {
	// Device selection
	SerialNumber *string `json:"serial_number,omitempty"`
	PortPath     *string `json:"port_path,omitempty"` // skips discovery when set

	// Link parameters
	BaudRate    *int    `json:"baud_rate,omitempty"`
	DataBits    *int    `json:"data_bits,omitempty"`
	StopBits    *int    `json:"stop_bits,omitempty"`
	Parity      *string `json:"parity,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string like "1s"

	// Framing and pacing
	ChunkSize      *int    `json:"chunk_size,omitempty"`
	StartSettle    *string `json:"start_settle,omitempty"`
	ChunkDelay     *string `json:"chunk_delay,omitempty"`
	DrainDelay     *string `json:"drain_delay,omitempty"`
	PostSendSettle *string `json:"post_send_settle,omitempty"`

	// Session scheduling
	InitialDelay *string `json:"initial_delay,omitempty"`
	SendInterval *string `json:"send_interval,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty"`

	// Optional surfaces
	DBPath *string `json:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty"`
}

// LoadBridgeConfig loads a BridgeConfig from a JSON file.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &BridgeConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *BridgeConfig) Validate() error {
	if c.SerialNumber != nil && strings.TrimSpace(*c.SerialNumber) == "" {
		return fmt.Errorf("serial_number must not be blank")
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.ChunkSize != nil && *c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", *c.ChunkSize)
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"read_timeout", c.ReadTimeout},
		{"start_settle", c.StartSettle},
		{"chunk_delay", c.ChunkDelay},
		{"drain_delay", c.DrainDelay},
		{"post_send_settle", c.PostSendSettle},
		{"initial_delay", c.InitialDelay},
		{"send_interval", c.SendInterval},
		{"poll_interval", c.PollInterval},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, *d.value)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func (c *BridgeConfig) GetSerialNumber() string { return stringOr(c.SerialNumber, DefaultSerialNumber) }
func (c *BridgeConfig) GetPortPath() string     { return stringOr(c.PortPath, "") }
func (c *BridgeConfig) GetBaudRate() int        { return intOr(c.BaudRate, 115200) }
func (c *BridgeConfig) GetDataBits() int        { return intOr(c.DataBits, 8) }
func (c *BridgeConfig) GetStopBits() int        { return intOr(c.StopBits, 1) }
func (c *BridgeConfig) GetParity() string       { return stringOr(c.Parity, "N") }
func (c *BridgeConfig) GetChunkSize() int       { return intOr(c.ChunkSize, 32) }
func (c *BridgeConfig) GetDBPath() string       { return stringOr(c.DBPath, "") }
func (c *BridgeConfig) GetListen() string       { return stringOr(c.Listen, "") }

// GetReadTimeout bounds how long a single read on the port may block.
func (c *BridgeConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, time.Second)
}

// GetStartSettle is the pause after the start marker.
func (c *BridgeConfig) GetStartSettle() time.Duration {
	return durationOr(c.StartSettle, 500*time.Millisecond)
}

func (c *BridgeConfig) GetChunkDelay() time.Duration {
	return durationOr(c.ChunkDelay, 100*time.Millisecond)
}

func (c *BridgeConfig) GetDrainDelay() time.Duration {
	return durationOr(c.DrainDelay, 100*time.Millisecond)
}

func (c *BridgeConfig) GetPostSendSettle() time.Duration {
	return durationOr(c.PostSendSettle, time.Second)
}

func (c *BridgeConfig) GetInitialDelay() time.Duration {
	return durationOr(c.InitialDelay, time.Second)
}

func (c *BridgeConfig) GetSendInterval() time.Duration {
	return durationOr(c.SendInterval, 30*time.Second)
}

func (c *BridgeConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 100*time.Millisecond)
}
