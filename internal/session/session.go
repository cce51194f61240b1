// Package session drives one connection to the peripheral: a telemetry frame
// on a fixed schedule and a steady poll for replies, until the link fails or
// the caller cancels.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/hostlink/internal/monitoring"
	"github.com/banshee-data/hostlink/internal/protocol"
	"github.com/banshee-data/hostlink/internal/telemetry"
	"github.com/banshee-data/hostlink/internal/timeutil"
)

var (
	// ErrSessionClosed is returned by Run on a session that already ended.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionRunning is returned by Run while another Run is active.
	ErrSessionRunning = errors.New("session already running")
)

// Conn is the link a session owns.
type Conn interface {
	protocol.Conn
	protocol.LineReader
	Close() error
}

// Producer builds the snapshot for each frame.
type Producer interface {
	Snapshot(ctx context.Context) telemetry.Snapshot
}

// Options configures a Session. Zero fields take defaults.
type Options struct {
	Clock  timeutil.Clock
	Timing *Timing
	Sink   Sink
}

// Stats are the session's own counters.
type Stats struct {
	Frames       int       `json:"frames"`
	Polls        int       `json:"polls"`
	Successes    int       `json:"successes"`
	Failures     int       `json:"failures"`
	Unclassified int       `json:"unclassified"`
	DecodeErrors int       `json:"decode_errors"`
	LastSend     time.Time `json:"last_send"`
}

// Session owns one open link from Run until it returns. A Session runs at
// most once.
type Session struct {
	id       string
	conn     Conn
	producer Producer
	framer   *protocol.Framer
	clock    timeutil.Clock
	timing   Timing
	sink     Sink
	logf     func(format string, v ...interface{})

	mu    sync.Mutex
	state State
	stats Stats

	closeOnce sync.Once
	closeErr  error

	// loop state, touched only by the running goroutine
	sendTimer  timeutil.Timer
	pollTicker timeutil.Ticker
	nextSend   time.Time
}

// New wraps an open link. The session takes ownership of conn and closes it
// when Run returns.
func New(conn Conn, producer Producer, opts Options) (*Session, error) {
	timing := DefaultTiming()
	if opts.Timing != nil {
		timing = *opts.Timing
	}
	if err := timing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid timing: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = LogSink{}
	}

	id := uuid.NewString()
	logf := monitoring.Prefixed("session " + id[:8])
	framer := protocol.NewFramer(clock, timing.Pacing)
	framer.SetLogger(logf)

	return &Session{
		id:       id,
		conn:     conn,
		producer: producer,
		framer:   framer,
		clock:    clock,
		timing:   timing,
		sink:     sink,
		logf:     logf,
	}, nil
}

// ID is the session's UUID.
func (s *Session) ID() string { return s.id }

// State reports where the session is in its lifecycle.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a copy of the counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run sends frames and polls for replies until ctx is done or the link
// fails. It returns nil after cancellation and the *protocol.TransportError
// otherwise. The link is closed before Run returns, on every path.
func (s *Session) Run(ctx context.Context) (err error) {
	if err := s.start(); err != nil {
		return err
	}
	defer func() { s.finish(err) }()

	for {
		done, err := s.step(ctx)
		if done {
			return err
		}
	}
}

// Close releases the link without running. Closing a running session makes
// its next link operation fail.
func (s *Session) Close() error {
	s.mu.Lock()
	from := s.state
	if from == Idle {
		s.state = Closed
	}
	s.mu.Unlock()

	err := s.closeConn()
	if from == Idle {
		s.emitState(Idle, Closed, nil)
	}
	return err
}

func (s *Session) start() error {
	s.mu.Lock()
	switch s.state {
	case Closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case Connected:
		s.mu.Unlock()
		return ErrSessionRunning
	}
	s.state = Connected
	s.mu.Unlock()

	s.emitState(Idle, Connected, nil)
	s.sendTimer = s.clock.NewTimer(s.timing.InitialDelay)
	s.pollTicker = s.clock.NewTicker(s.timing.PollInterval)
	s.nextSend = s.clock.Now().Add(s.timing.InitialDelay)
	return nil
}

// step waits for one event and handles it. done reports that the loop must
// stop; err is then the reason, or nil for cancellation.
func (s *Session) step(ctx context.Context) (done bool, err error) {
	if ctx.Err() != nil {
		return true, nil
	}
	select {
	case <-ctx.Done():
		return true, nil
	case <-s.sendTimer.C():
		if err := s.send(ctx); err != nil {
			return true, err
		}
	case <-s.pollTicker.C():
		if err := s.poll(); err != nil {
			return true, err
		}
	}
	return false, nil
}

func (s *Session) finish(cause error) {
	s.sendTimer.Stop()
	s.pollTicker.Stop()
	if err := s.closeConn(); err != nil {
		s.logf("close link: %v", err)
	}

	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	s.emitState(Connected, Closed, cause)
}

func (s *Session) closeConn() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) emitState(from, to State, err error) {
	s.sink.StateChanged(StateEvent{
		SessionID: s.id,
		At:        s.clock.Now(),
		From:      from,
		To:        to,
		Err:       err,
	})
}

// send transmits one frame and arms the timer for the next. The next
// deadline counts from when this send started, so a slow send does not push
// the schedule back.
func (s *Session) send(ctx context.Context) error {
	started := s.clock.Now()
	snap := s.producer.Snapshot(ctx)

	body, err := protocol.EncodePayload(snap)
	if err != nil {
		s.sink.Diagnostic(DiagnosticEvent{SessionID: s.id, At: started, Text: "snapshot not sent", Err: err})
	} else {
		if err := s.framer.SendPayload(s.conn, body); err != nil {
			return err
		}
		s.mu.Lock()
		s.stats.Frames++
		s.stats.LastSend = started
		s.mu.Unlock()
		s.sink.FrameSent(FrameEvent{
			SessionID: s.id,
			At:        started,
			Snapshot:  snap,
			Bytes:     len(body),
			Chunks:    len(protocol.Chunks(body, s.timing.ChunkSize)),
		})
	}

	s.nextSend = started.Add(s.timing.SendInterval)
	wait := s.nextSend.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	s.sendTimer.Reset(wait)
	return nil
}

// poll drains every complete reply line that is already buffered.
func (s *Session) poll() error {
	s.mu.Lock()
	s.stats.Polls++
	s.mu.Unlock()

	for {
		resp, ok, err := protocol.Poll(s.conn)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.deliver(resp)
	}
}

func (s *Session) deliver(resp protocol.Response) {
	now := s.clock.Now()

	s.mu.Lock()
	switch resp.Kind {
	case protocol.Success:
		s.stats.Successes++
	case protocol.Failure:
		s.stats.Failures++
	default:
		s.stats.Unclassified++
	}
	if resp.Err != nil {
		s.stats.DecodeErrors++
	}
	s.mu.Unlock()

	if resp.Kind == protocol.Unclassified {
		s.sink.Diagnostic(DiagnosticEvent{SessionID: s.id, At: now, Text: resp.Text, Err: resp.Err})
		return
	}
	s.sink.Response(ResponseEvent{SessionID: s.id, At: now, Kind: resp.Kind, Text: resp.Text})
}
