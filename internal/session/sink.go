package session

import (
	"sync"
	"time"

	"github.com/banshee-data/hostlink/internal/monitoring"
	"github.com/banshee-data/hostlink/internal/protocol"
	"github.com/banshee-data/hostlink/internal/telemetry"
)

// FrameEvent describes one complete frame written to the link.
type FrameEvent struct {
	SessionID string             `json:"session_id"`
	At        time.Time          `json:"at"`
	Snapshot  telemetry.Snapshot `json:"snapshot"`
	Bytes     int                `json:"bytes"`
	Chunks    int                `json:"chunks"`
}

// ResponseEvent is a classified reply from the peripheral.
type ResponseEvent struct {
	SessionID string        `json:"session_id"`
	At        time.Time     `json:"at"`
	Kind      protocol.Kind `json:"kind"`
	Text      string        `json:"text"`
}

// DiagnosticEvent carries text the session could not classify, or a
// non-fatal problem worth surfacing.
type DiagnosticEvent struct {
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	Text      string    `json:"text"`
	Err       error     `json:"-"`
}

// StateEvent records a lifecycle transition.
type StateEvent struct {
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	// Err is the error that closed the session, if any.
	Err error `json:"-"`
}

// Sink receives session events. Calls arrive from the goroutine running
// Session.Run and must not block for long.
type Sink interface {
	FrameSent(FrameEvent)
	Response(ResponseEvent)
	Diagnostic(DiagnosticEvent)
	StateChanged(StateEvent)
}

// LogSink writes every event as a log line.
type LogSink struct {
	Logf func(format string, v ...interface{})
}

func (l LogSink) logf(sessionID, format string, v ...interface{}) {
	logf := l.Logf
	if logf == nil {
		logf = monitoring.Logf
	}
	if len(sessionID) >= 8 {
		format = "[session " + sessionID[:8] + "] " + format
	}
	logf(format, v...)
}

func (l LogSink) FrameSent(e FrameEvent) {
	l.logf(e.SessionID, "sent frame (%d bytes, %d chunks) cpu=%.1f%% mem=%.1f%%",
		e.Bytes, e.Chunks, float64(e.Snapshot.CPUPercent), float64(e.Snapshot.MemoryPercent))
}

func (l LogSink) Response(e ResponseEvent) {
	switch e.Kind {
	case protocol.Success:
		l.logf(e.SessionID, "peripheral ok: %s", e.Text)
	case protocol.Failure:
		l.logf(e.SessionID, "peripheral error: %s", e.Text)
	default:
		l.logf(e.SessionID, "peripheral: %s", e.Text)
	}
}

func (l LogSink) Diagnostic(e DiagnosticEvent) {
	if e.Err != nil {
		l.logf(e.SessionID, "diagnostic: %s (%v)", e.Text, e.Err)
		return
	}
	l.logf(e.SessionID, "raw: %s", e.Text)
}

func (l LogSink) StateChanged(e StateEvent) {
	if e.Err != nil {
		l.logf(e.SessionID, "state %s -> %s: %v", e.From, e.To, e.Err)
		return
	}
	l.logf(e.SessionID, "state %s -> %s", e.From, e.To)
}

// MultiSink fans every event out to each member in order.
type MultiSink []Sink

func (m MultiSink) FrameSent(e FrameEvent) {
	for _, s := range m {
		s.FrameSent(e)
	}
}

func (m MultiSink) Response(e ResponseEvent) {
	for _, s := range m {
		s.Response(e)
	}
}

func (m MultiSink) Diagnostic(e DiagnosticEvent) {
	for _, s := range m {
		s.Diagnostic(e)
	}
}

func (m MultiSink) StateChanged(e StateEvent) {
	for _, s := range m {
		s.StateChanged(e)
	}
}

// DefaultRecorderSize is the number of events of each kind a Recorder keeps.
const DefaultRecorderSize = 120

// Counts tallies events seen by a Recorder.
type Counts struct {
	Frames      int `json:"frames"`
	Successes   int `json:"successes"`
	Failures    int `json:"failures"`
	Diagnostics int `json:"diagnostics"`
}

// Recorder keeps the most recent events in memory for the debug routes.
// It outlives individual sessions when the process reconnects.
type Recorder struct {
	size int

	mu          sync.Mutex
	sessionID   string
	state       State
	lastErr     string
	counts      Counts
	frames      []FrameEvent
	responses   []ResponseEvent
	diagnostics []DiagnosticEvent
}

// NewRecorder returns a Recorder holding up to size events per kind.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{size: size}
}

func appendBounded[T any](buf []T, v T, size int) []T {
	if len(buf) >= size {
		copy(buf, buf[1:])
		buf = buf[:len(buf)-1]
	}
	return append(buf, v)
}

func (r *Recorder) FrameSent(e FrameEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Frames++
	r.frames = appendBounded(r.frames, e, r.size)
}

func (r *Recorder) Response(e ResponseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Kind {
	case protocol.Success:
		r.counts.Successes++
	case protocol.Failure:
		r.counts.Failures++
	}
	r.responses = appendBounded(r.responses, e, r.size)
}

func (r *Recorder) Diagnostic(e DiagnosticEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Diagnostics++
	r.diagnostics = appendBounded(r.diagnostics, e, r.size)
}

func (r *Recorder) StateChanged(e StateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = e.SessionID
	r.state = e.To
	if e.Err != nil {
		r.lastErr = e.Err.Error()
	}
}

// Frames returns the recorded frames, oldest first.
func (r *Recorder) Frames() []FrameEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FrameEvent(nil), r.frames...)
}

// Responses returns the recorded replies, oldest first.
func (r *Recorder) Responses() []ResponseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ResponseEvent(nil), r.responses...)
}

// Diagnostics returns the recorded diagnostics, oldest first.
func (r *Recorder) Diagnostics() []DiagnosticEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DiagnosticEvent(nil), r.diagnostics...)
}

// Counts returns the running totals.
func (r *Recorder) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// Status is the summary served on /debug/session.
type Status struct {
	SessionID   string            `json:"session_id"`
	State       State             `json:"state"`
	LastError   string            `json:"last_error,omitempty"`
	Counts      Counts            `json:"counts"`
	LastFrame   *FrameEvent       `json:"last_frame,omitempty"`
	Responses   []ResponseEvent   `json:"responses"`
	Diagnostics []DiagnosticEvent `json:"diagnostics"`
}

// Status snapshots the recorder.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		SessionID:   r.sessionID,
		State:       r.state,
		LastError:   r.lastErr,
		Counts:      r.counts,
		Responses:   append([]ResponseEvent{}, r.responses...),
		Diagnostics: append([]DiagnosticEvent{}, r.diagnostics...),
	}
	if n := len(r.frames); n > 0 {
		last := r.frames[n-1]
		st.LastFrame = &last
	}
	return st
}
