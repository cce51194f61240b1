package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shirou/gopsutil/v4/host"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/banshee-data/hostlink/internal/monitoring"
	"github.com/banshee-data/hostlink/internal/timeutil"
)

// Wednesday
var fixedNow = time.Date(2026, 3, 4, 9, 7, 0, 0, time.UTC)

func fakeSources() Sources {
	return Sources{
		Interfaces: func(context.Context) (psnet.InterfaceStatList, error) {
			return psnet.InterfaceStatList{
				{Name: "lo", HardwareAddr: "", Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}, {Addr: "::1/128"}}},
				{Name: "wlan0", HardwareAddr: "aa:bb:cc:dd:ee:ff", Addrs: psnet.InterfaceAddrList{{Addr: "fe80::1/64"}, {Addr: "192.168.1.20/24"}}},
				{Name: "docker0", HardwareAddr: "02:42:00:00:00:01", Addrs: psnet.InterfaceAddrList{{Addr: "fe80::42/64"}}},
			}, nil
		},
		CPUPercent:    func(context.Context) (float64, error) { return 12.345, nil },
		MemoryPercent: func(context.Context) (float64, error) { return 40, nil },
		Platform:      func(context.Context) (string, error) { return "Linux-6.1.0-x86_64", nil },
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := NewCollectorWith(timeutil.NewMockClock(fixedNow), fakeSources())

	got := c.Snapshot(context.Background())
	want := Snapshot{
		Network: Network{Interfaces: map[string]Interface{
			"Loopback": {MAC: "", IP: "127.0.0.1"},
			"WiFi":     {MAC: "aa:bb:cc:dd:ee:ff", IP: "192.168.1.20"},
		}},
		Platform:      "Linux-6.1.0-x86_64",
		CPUPercent:    12.3,
		MemoryPercent: 40.0,
		Time:          "09:07",
		Date:          "Wednesday, 04",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCollector_DegradesOnErrors(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var logged int
	monitoring.SetLogger(func(string, ...interface{}) { logged++ })

	src := fakeSources()
	src.Interfaces = func(context.Context) (psnet.InterfaceStatList, error) {
		return nil, errors.New("netlink unavailable")
	}
	src.CPUPercent = func(context.Context) (float64, error) { return 0, errors.New("no /proc/stat") }

	got := NewCollectorWith(timeutil.NewMockClock(fixedNow), src).Snapshot(context.Background())

	if got.Network.Err != "netlink unavailable" {
		t.Errorf("Network.Err = %q", got.Network.Err)
	}
	if got.CPUPercent != 0 {
		t.Errorf("CPUPercent = %v, want 0", got.CPUPercent)
	}
	if got.MemoryPercent != 40 || got.Platform == "" || got.Time != "09:07" {
		t.Errorf("healthy fields should still be filled: %+v", got)
	}
	if logged != 2 {
		t.Errorf("logged %d diagnostics, want 2", logged)
	}

	body, err := json.Marshal(got.Network)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"error":"netlink unavailable"}` {
		t.Errorf("network encodes as %s", body)
	}
}

func TestLogicalName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Wi-Fi", "WiFi"},
		{"wlan0", "WiFi"},
		{"Ethernet 2", "Ethernet"},
		{"eth0", "Ethernet"},
		{"lo", "Loopback"},
		{"Loopback Pseudo-Interface 1", "Loopback"},
		{"enp3s0", "enp3s0"},
		{"tun0", "tun0"},
	}
	for _, tt := range tests {
		if got := LogicalName(tt.in); got != tt.want {
			t.Errorf("LogicalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want Percent
	}{
		{12.34, 12.3},
		{12.36, 12.4},
		{-1, 0},
		{101, 100},
		{0, 0},
	}
	for _, tt := range tests {
		if got := NewPercent(tt.in); got != tt.want {
			t.Errorf("NewPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSnapshot_WireEncoding(t *testing.T) {
	snap := Snapshot{
		Network:       Network{Interfaces: map[string]Interface{"WiFi": {MAC: "aa:bb", IP: "10.0.0.2"}}},
		Platform:      "Linux",
		CPUPercent:    7,
		MemoryPercent: 55.5,
		Time:          "09:07",
		Date:          "Wednesday, 04",
	}
	body, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"network":{"WiFi":{"mac":"aa:bb","ip":"10.0.0.2"}},"platform":"Linux","cpu_percent":7.0,"memory_percent":55.5,"time":"09:07","date":"Wednesday, 04"}`
	if string(body) != want {
		t.Errorf("got  %s\nwant %s", body, want)
	}

	var back Snapshot
	if err := json.Unmarshal(body, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(snap, back); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}
}

func TestPlatformString(t *testing.T) {
	info := &host.InfoStat{OS: "linux", KernelVersion: "6.1.0-18-amd64", KernelArch: "x86_64", Platform: "debian", PlatformVersion: "12.5"}
	if got, want := PlatformString(info), "Linux-6.1.0-18-amd64-x86_64-with-debian-12.5"; got != want {
		t.Errorf("PlatformString() = %q, want %q", got, want)
	}
	if got := PlatformString(nil); got != "" {
		t.Errorf("PlatformString(nil) = %q", got)
	}
}
