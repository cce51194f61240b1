// Package protocol implements the framed link protocol spoken with the
// peripheral: STX, the JSON snapshot written in paced chunks, newline, ETX.
// Replies come back as newline-terminated text lines.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/hostlink/internal/monitoring"
	"github.com/banshee-data/hostlink/internal/telemetry"
	"github.com/banshee-data/hostlink/internal/timeutil"
)

// Frame delimiters. They never appear inside a payload.
const (
	STX byte = 0x02
	ETX byte = 0x03
)

var trailer = []byte{'\n', ETX}

// Conn is the write side of the link the framer needs.
type Conn interface {
	io.Writer
	// Flush blocks until written bytes have left the host.
	Flush() error
	// ResetInput discards unread inbound bytes.
	ResetInput() error
}

// Pacing controls chunk size and the pauses the peripheral needs between
// the parts of a frame.
type Pacing struct {
	ChunkSize      int
	StartSettle    time.Duration // after STX
	ChunkDelay     time.Duration // after every chunk
	DrainDelay     time.Duration // after the last chunk, before the trailer
	PostSendSettle time.Duration // after the trailer
}

// DefaultPacing matches what the peripheral firmware can absorb at 115200
// baud without overrunning its receive buffer.
func DefaultPacing() Pacing {
	return Pacing{
		ChunkSize:      32,
		StartSettle:    500 * time.Millisecond,
		ChunkDelay:     100 * time.Millisecond,
		DrainDelay:     100 * time.Millisecond,
		PostSendSettle: time.Second,
	}
}

// Duration is the total pause time for a body of n bytes.
func (p Pacing) Duration(n int) time.Duration {
	chunks := 0
	switch {
	case n == 0:
	case p.ChunkSize <= 0:
		chunks = 1
	default:
		chunks = (n + p.ChunkSize - 1) / p.ChunkSize
	}
	return p.StartSettle + time.Duration(chunks)*p.ChunkDelay + p.DrainDelay + p.PostSendSettle
}

// EncodePayload serialises snap as compact JSON with the frame delimiters
// removed.
func EncodePayload(snap telemetry.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	body := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return StripDelimiters(body), nil
}

// StripDelimiters returns body without any STX or ETX bytes.
func StripDelimiters(body []byte) []byte {
	if bytes.IndexByte(body, STX) < 0 && bytes.IndexByte(body, ETX) < 0 {
		return body
	}
	out := make([]byte, 0, len(body))
	for _, b := range body {
		if b != STX && b != ETX {
			out = append(out, b)
		}
	}
	return out
}

// Chunks splits body into consecutive slices of at most size bytes. The
// slices alias body.
func Chunks(body []byte, size int) [][]byte {
	if size <= 0 {
		size = len(body)
	}
	var chunks [][]byte
	for start := 0; start < len(body); start += size {
		end := start + size
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[start:end])
	}
	return chunks
}

// AppendFrame appends the complete frame for body to dst.
func AppendFrame(dst, body []byte) []byte {
	dst = append(dst, STX)
	dst = append(dst, body...)
	return append(dst, trailer...)
}

// DecodeFrame returns the payload of a complete frame.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < 1+len(trailer) || frame[0] != STX || !bytes.HasSuffix(frame, trailer) {
		return nil, ErrMalformedFrame
	}
	body := frame[1 : len(frame)-len(trailer)]
	if bytes.IndexByte(body, STX) >= 0 || bytes.IndexByte(body, ETX) >= 0 {
		return nil, fmt.Errorf("%w: delimiter inside payload", ErrMalformedFrame)
	}
	return body, nil
}

// Framer writes frames to a Conn with the configured pacing.
type Framer struct {
	clock  timeutil.Clock
	pacing Pacing
	logf   func(format string, v ...interface{})
}

// NewFramer returns a Framer that sleeps on clock between frame parts.
func NewFramer(clock timeutil.Clock, pacing Pacing) *Framer {
	return &Framer{clock: clock, pacing: pacing, logf: monitoring.Logf}
}

// SetLogger replaces the progress logger.
func (f *Framer) SetLogger(logf func(format string, v ...interface{})) {
	f.logf = logf
}

// Send encodes snap and transmits it as one frame.
func (f *Framer) Send(conn Conn, snap telemetry.Snapshot) error {
	body, err := EncodePayload(snap)
	if err != nil {
		return err
	}
	return f.SendPayload(conn, body)
}

// SendPayload transmits body as one frame. It blocks for the whole pacing
// schedule. On failure the bytes already written stay on the wire; the
// protocol has no way to retract a partial frame.
func (f *Framer) SendPayload(conn Conn, body []byte) error {
	body = StripDelimiters(body)
	chunks := Chunks(body, f.pacing.ChunkSize)
	f.logf("sending frame: %d bytes in %d chunks", len(body), len(chunks))

	if err := conn.ResetInput(); err != nil {
		return &TransportError{Op: "reset", Err: err}
	}

	if err := f.write(conn, []byte{STX}); err != nil {
		return err
	}
	f.clock.Sleep(f.pacing.StartSettle)

	for _, chunk := range chunks {
		if err := f.write(conn, chunk); err != nil {
			return err
		}
		f.clock.Sleep(f.pacing.ChunkDelay)
	}
	f.clock.Sleep(f.pacing.DrainDelay)

	if err := f.write(conn, trailer); err != nil {
		return err
	}
	f.clock.Sleep(f.pacing.PostSendSettle)
	return nil
}

func (f *Framer) write(conn Conn, p []byte) error {
	n, err := conn.Write(p)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if n != len(p) {
		return &TransportError{Op: "write", Err: io.ErrShortWrite}
	}
	if err := conn.Flush(); err != nil {
		return &TransportError{Op: "flush", Err: err}
	}
	return nil
}
