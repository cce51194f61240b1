package telemetry

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/banshee-data/hostlink/internal/monitoring"
	"github.com/banshee-data/hostlink/internal/timeutil"
)

// SnapshotError records a field that could not be collected. It never stops
// a snapshot from being produced; the field is degraded instead.
type SnapshotError struct {
	Field string
	Err   error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.Field, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// Sources are the host probes a Collector reads. Tests replace them.
type Sources struct {
	Interfaces    func(ctx context.Context) (psnet.InterfaceStatList, error)
	CPUPercent    func(ctx context.Context) (float64, error)
	MemoryPercent func(ctx context.Context) (float64, error)
	Platform      func(ctx context.Context) (string, error)
}

// HostSources returns probes backed by gopsutil.
func HostSources() Sources {
	return Sources{
		Interfaces: psnet.InterfacesWithContext,
		CPUPercent: func(ctx context.Context) (float64, error) {
			// interval 0 compares against the previous call, so the first
			// reading after start-up may be 0
			pcts, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				return 0, err
			}
			if len(pcts) == 0 {
				return 0, fmt.Errorf("no cpu readings")
			}
			return pcts[0], nil
		},
		MemoryPercent: func(ctx context.Context) (float64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.UsedPercent, nil
		},
		Platform: func(ctx context.Context) (string, error) {
			info, err := host.InfoWithContext(ctx)
			if err != nil {
				return "", err
			}
			return PlatformString(info), nil
		},
	}
}

// Collector produces Snapshots from host state.
type Collector struct {
	clock   timeutil.Clock
	sources Sources
}

// NewCollector returns a Collector reading the real host.
func NewCollector(clock timeutil.Clock) *Collector {
	return NewCollectorWith(clock, HostSources())
}

// NewCollectorWith returns a Collector reading the given sources.
func NewCollectorWith(clock timeutil.Clock, sources Sources) *Collector {
	return &Collector{clock: clock, sources: sources}
}

// Snapshot reads every probe once. Failures are logged as SnapshotErrors and
// degrade the affected field; a network failure replaces the network map
// with {"error": ...}.
func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	var snap Snapshot

	ifaces, err := c.sources.Interfaces(ctx)
	if err != nil {
		c.report(&SnapshotError{Field: "network", Err: err})
		snap.Network = Network{Err: err.Error()}
	} else {
		snap.Network = Network{Interfaces: MapInterfaces(ifaces)}
	}

	if platform, err := c.sources.Platform(ctx); err != nil {
		c.report(&SnapshotError{Field: "platform", Err: err})
	} else {
		snap.Platform = platform
	}

	if pct, err := c.sources.CPUPercent(ctx); err != nil {
		c.report(&SnapshotError{Field: "cpu_percent", Err: err})
	} else {
		snap.CPUPercent = NewPercent(pct)
	}

	if pct, err := c.sources.MemoryPercent(ctx); err != nil {
		c.report(&SnapshotError{Field: "memory_percent", Err: err})
	} else {
		snap.MemoryPercent = NewPercent(pct)
	}

	snap.Stamp(c.clock.Now())
	return snap
}

func (c *Collector) report(err *SnapshotError) {
	monitoring.Logf("telemetry degraded: %v", err)
}

// MapInterfaces keeps interfaces that have an IPv4 address and renames them
// to the logical names the peripheral displays. Later interfaces win when two
// map to the same logical name.
func MapInterfaces(ifaces psnet.InterfaceStatList) map[string]Interface {
	out := make(map[string]Interface)
	for _, iface := range ifaces {
		ip := firstIPv4(iface.Addrs)
		if ip == "" {
			continue
		}
		out[LogicalName(iface.Name)] = Interface{MAC: iface.HardwareAddr, IP: ip}
	}
	return out
}

// LogicalName maps an OS interface name to WiFi, Ethernet or Loopback, or
// returns it unchanged.
func LogicalName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(name, "Wi-Fi") || strings.Contains(lower, "wlan"):
		return "WiFi"
	case strings.Contains(name, "Ethernet") || strings.Contains(lower, "eth"):
		return "Ethernet"
	case strings.Contains(name, "Loopback") || strings.Contains(lower, "lo"):
		return "Loopback"
	}
	return name
}

func firstIPv4(addrs psnet.InterfaceAddrList) string {
	for _, a := range addrs {
		var addr netip.Addr
		if prefix, err := netip.ParsePrefix(a.Addr); err == nil {
			addr = prefix.Addr()
		} else if parsed, err := netip.ParseAddr(a.Addr); err == nil {
			addr = parsed
		} else {
			continue
		}
		if addr.Is4() {
			return addr.String()
		}
	}
	return ""
}

// PlatformString renders host info the way platform identifiers usually
// look, e.g. "Linux-6.1.0-18-amd64-x86_64-with-debian-12.5".
func PlatformString(info *host.InfoStat) string {
	if info == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if info.OS != "" {
		parts = append(parts, strings.ToUpper(info.OS[:1])+info.OS[1:])
	}
	if info.KernelVersion != "" {
		parts = append(parts, info.KernelVersion)
	}
	if info.KernelArch != "" {
		parts = append(parts, info.KernelArch)
	}
	s := strings.Join(parts, "-")
	if info.Platform != "" {
		s += "-with-" + info.Platform
		if info.PlatformVersion != "" {
			s += "-" + info.PlatformVersion
		}
	}
	return s
}
