// Package telemetry builds the host status record pushed to the peripheral.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Formats used for the Time and Date fields.
const (
	TimeLayout = "15:04"
	DateLayout = "Monday, 02"
)

// Percent is a utilisation figure rounded to one decimal. It always encodes
// with exactly one fractional digit (12.0, not 12) because the peripheral
// firmware parses it as N.N.
type Percent float64

// NewPercent rounds v to one decimal and clamps it to [0, 100].
func NewPercent(v float64) Percent {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return Percent(math.Round(v*10) / 10)
}

func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(p), 'f', 1, 64)), nil
}

// Interface is one network interface entry.
type Interface struct {
	MAC string `json:"mac"`
	IP  string `json:"ip"`
}

// Network maps logical interface names to addresses. When collection failed
// Err is set and the value encodes as {"error": Err} instead.
type Network struct {
	Interfaces map[string]Interface
	Err        string
}

func (n Network) MarshalJSON() ([]byte, error) {
	if n.Err != "" {
		return marshalRaw(map[string]string{"error": n.Err})
	}
	if n.Interfaces == nil {
		return []byte("{}"), nil
	}
	return marshalRaw(n.Interfaces)
}

// marshalRaw encodes v without HTML escaping, matching the outer encoder.
func marshalRaw(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (n *Network) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if raw, ok := probe["error"]; ok && len(probe) == 1 {
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil {
			*n = Network{Err: msg}
			return nil
		}
	}
	ifaces := make(map[string]Interface, len(probe))
	for name, raw := range probe {
		var iface Interface
		if err := json.Unmarshal(raw, &iface); err != nil {
			return fmt.Errorf("interface %q: %w", name, err)
		}
		ifaces[name] = iface
	}
	*n = Network{Interfaces: ifaces}
	return nil
}

// Snapshot is one telemetry record. It is built fresh for every frame and
// treated as read-only afterwards. Field order is the wire order.
type Snapshot struct {
	Network       Network `json:"network"`
	Platform      string  `json:"platform"`
	CPUPercent    Percent `json:"cpu_percent"`
	MemoryPercent Percent `json:"memory_percent"`
	Time          string  `json:"time"`
	Date          string  `json:"date"`
}

// Stamp fills Time and Date from t.
func (s *Snapshot) Stamp(t time.Time) {
	s.Time = t.Format(TimeLayout)
	s.Date = t.Format(DateLayout)
}
