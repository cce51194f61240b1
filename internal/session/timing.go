package session

import (
	"fmt"
	"time"

	"github.com/banshee-data/hostlink/internal/config"
	"github.com/banshee-data/hostlink/internal/protocol"
)

// Timing gathers every interval the session and framer run on.
type Timing struct {
	protocol.Pacing

	InitialDelay time.Duration // before the first send
	SendInterval time.Duration // between send starts
	PollInterval time.Duration // between reply polls
	ReadTimeout  time.Duration // serial read timeout
}

// DefaultTiming returns the production schedule.
func DefaultTiming() Timing {
	return Timing{
		Pacing:       protocol.DefaultPacing(),
		InitialDelay: time.Second,
		SendInterval: 30 * time.Second,
		PollInterval: 100 * time.Millisecond,
		ReadTimeout:  time.Second,
	}
}

// TimingFromConfig reads the schedule out of a loaded config file.
func TimingFromConfig(cfg *config.BridgeConfig) Timing {
	return Timing{
		Pacing: protocol.Pacing{
			ChunkSize:      cfg.GetChunkSize(),
			StartSettle:    cfg.GetStartSettle(),
			ChunkDelay:     cfg.GetChunkDelay(),
			DrainDelay:     cfg.GetDrainDelay(),
			PostSendSettle: cfg.GetPostSendSettle(),
		},
		InitialDelay: cfg.GetInitialDelay(),
		SendInterval: cfg.GetSendInterval(),
		PollInterval: cfg.GetPollInterval(),
		ReadTimeout:  cfg.GetReadTimeout(),
	}
}

// Validate rejects schedules the loop cannot run.
func (t Timing) Validate() error {
	if t.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", t.ChunkSize)
	}
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"send interval", t.SendInterval},
		{"poll interval", t.PollInterval},
		{"read timeout", t.ReadTimeout},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.d)
		}
	}
	nonNegative := []struct {
		name string
		d    time.Duration
	}{
		{"initial delay", t.InitialDelay},
		{"start settle", t.StartSettle},
		{"chunk delay", t.ChunkDelay},
		{"drain delay", t.DrainDelay},
		{"post-send settle", t.PostSendSettle},
	}
	for _, p := range nonNegative {
		if p.d < 0 {
			return fmt.Errorf("%s must not be negative, got %v", p.name, p.d)
		}
	}
	return nil
}
