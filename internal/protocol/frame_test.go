package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/hostlink/internal/monitoring"
	"github.com/banshee-data/hostlink/internal/telemetry"
	"github.com/banshee-data/hostlink/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// recordingConn captures every write and can fail the write numbered
// failAt (0-based).
type recordingConn struct {
	writes   [][]byte
	flushes  int
	resets   int
	failAt   int
	failErr  error
	shortAt  int
	flushErr error
	resetErr error
}

func newRecordingConn() *recordingConn {
	return &recordingConn{failAt: -1, shortAt: -1}
}

func (c *recordingConn) Write(p []byte) (int, error) {
	idx := len(c.writes)
	if idx == c.failAt {
		return 0, c.failErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	if idx == c.shortAt {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (c *recordingConn) Flush() error {
	c.flushes++
	return c.flushErr
}

func (c *recordingConn) ResetInput() error {
	c.resets++
	return c.resetErr
}

func (c *recordingConn) wire() []byte { return bytes.Join(c.writes, nil) }

func sampleSnapshot() telemetry.Snapshot {
	return telemetry.Snapshot{
		Network: telemetry.Network{Interfaces: map[string]telemetry.Interface{
			"WiFi":     {MAC: "aa:bb:cc:dd:ee:ff", IP: "192.168.1.20"},
			"Loopback": {MAC: "", IP: "127.0.0.1"},
		}},
		Platform:      "Linux-6.1.0-18-amd64-x86_64-with-debian-12.5",
		CPUPercent:    12.3,
		MemoryPercent: 48.0,
		Time:          "09:07",
		Date:          "Wednesday, 04",
	}
}

func randomSnapshot(r *rand.Rand) telemetry.Snapshot {
	randString := func(n int) string {
		b := make([]rune, n)
		for i := range b {
			// include the delimiters and other control bytes on purpose
			b[i] = rune(r.Intn(0x80))
		}
		return string(b)
	}
	ifaces := make(map[string]telemetry.Interface)
	for i := 0; i < r.Intn(4); i++ {
		ifaces[randString(1+r.Intn(8))] = telemetry.Interface{MAC: randString(r.Intn(17)), IP: randString(r.Intn(15))}
	}
	return telemetry.Snapshot{
		Network:       telemetry.Network{Interfaces: ifaces},
		Platform:      randString(r.Intn(80)),
		CPUPercent:    telemetry.NewPercent(r.Float64() * 100),
		MemoryPercent: telemetry.NewPercent(r.Float64() * 100),
		Time:          randString(5),
		Date:          randString(12),
	}
}

func TestEncodePayload_Compact(t *testing.T) {
	body, err := EncodePayload(sampleSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"network":{"Loopback":{"mac":"","ip":"127.0.0.1"},"WiFi":{"mac":"aa:bb:cc:dd:ee:ff","ip":"192.168.1.20"}},` +
		`"platform":"Linux-6.1.0-18-amd64-x86_64-with-debian-12.5","cpu_percent":12.3,"memory_percent":48.0,"time":"09:07","date":"Wednesday, 04"}`
	if string(body) != want {
		t.Errorf("got  %s\nwant %s", body, want)
	}
}

func TestEncodePayload_NoDelimiters(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		snap := randomSnapshot(r)
		body, err := EncodePayload(snap)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if bytes.IndexByte(body, STX) >= 0 || bytes.IndexByte(body, ETX) >= 0 {
			t.Fatalf("case %d: payload contains a delimiter: %q", i, body)
		}
	}
}

func TestStripDelimiters(t *testing.T) {
	got := StripDelimiters([]byte("a\x02b\x03c\x02"))
	if string(got) != "abc" {
		t.Errorf("StripDelimiters() = %q, want %q", got, "abc")
	}
	clean := []byte("nothing to strip")
	if got := StripDelimiters(clean); &got[0] != &clean[0] {
		t.Error("clean input should be returned as is")
	}
}

func TestChunks(t *testing.T) {
	for _, size := range []int{1, 7, 32} {
		for l := 0; l <= 100; l++ {
			body := bytes.Repeat([]byte("x"), l)
			chunks := Chunks(body, size)

			want := (l + size - 1) / size
			if len(chunks) != want {
				t.Fatalf("size=%d len=%d: got %d chunks, want %d", size, l, len(chunks), want)
			}
			for i, c := range chunks {
				if len(c) > size || (i < len(chunks)-1 && len(c) != size) {
					t.Fatalf("size=%d len=%d: chunk %d has %d bytes", size, l, i, len(c))
				}
			}
			if !bytes.Equal(bytes.Join(chunks, nil), body) {
				t.Fatalf("size=%d len=%d: chunks do not reassemble", size, l)
			}
		}
	}
}

func TestFramer_SendWireLayout(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 4, 9, 7, 0, 0, time.UTC))
	framer := NewFramer(clock, DefaultPacing())
	conn := newRecordingConn()

	snap := sampleSnapshot()
	if err := framer.Send(conn, snap); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	body, _ := EncodePayload(snap)
	nChunks := (len(body) + 31) / 32

	if conn.resets != 1 {
		t.Errorf("ResetInput called %d times, want 1", conn.resets)
	}
	if got, want := len(conn.writes), 1+nChunks+1; got != want {
		t.Fatalf("got %d writes, want %d", got, want)
	}
	if conn.flushes != len(conn.writes) {
		t.Errorf("flushed %d times for %d writes", conn.flushes, len(conn.writes))
	}
	if !bytes.Equal(conn.writes[0], []byte{STX}) {
		t.Errorf("first write = %q, want STX", conn.writes[0])
	}
	if !bytes.Equal(conn.writes[len(conn.writes)-1], []byte{'\n', ETX}) {
		t.Errorf("last write = %q, want newline+ETX", conn.writes[len(conn.writes)-1])
	}
	if !bytes.Equal(bytes.Join(conn.writes[1:len(conn.writes)-1], nil), body) {
		t.Error("body chunks do not reassemble the payload")
	}
	if !bytes.Equal(conn.wire(), AppendFrame(nil, body)) {
		t.Error("wire bytes differ from AppendFrame")
	}

	wantSleeps := []time.Duration{500 * time.Millisecond}
	for i := 0; i < nChunks; i++ {
		wantSleeps = append(wantSleeps, 100*time.Millisecond)
	}
	wantSleeps = append(wantSleeps, 100*time.Millisecond, time.Second)
	if diff := cmp.Diff(wantSleeps, clock.Sleeps()); diff != "" {
		t.Errorf("pacing mismatch (-want +got):\n%s", diff)
	}

	var total time.Duration
	for _, d := range clock.Sleeps() {
		total += d
	}
	if got := DefaultPacing().Duration(len(body)); got != total {
		t.Errorf("Pacing.Duration() = %v, slept %v", got, total)
	}
}

func TestFramer_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	framer := NewFramer(timeutil.NewMockClock(time.Time{}), DefaultPacing())

	cases := []telemetry.Snapshot{sampleSnapshot(), {Network: telemetry.Network{Err: "netlink: permission denied"}}}
	for i := 0; i < 50; i++ {
		cases = append(cases, randomSnapshot(r))
	}

	for i, snap := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			conn := newRecordingConn()
			if err := framer.Send(conn, snap); err != nil {
				t.Fatal(err)
			}
			body, err := DecodeFrame(conn.wire())
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			var got telemetry.Snapshot
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("payload is not JSON: %v\n%s", err, body)
			}
			if snap.Network.Err == "" && snap.Network.Interfaces == nil {
				snap.Network.Interfaces = map[string]telemetry.Interface{}
			}
			if diff := cmp.Diff(snap, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFramer_WriteFailureStopsFrame(t *testing.T) {
	cause := errors.New("input/output error")
	clock := timeutil.NewMockClock(time.Time{})
	framer := NewFramer(clock, DefaultPacing())

	conn := newRecordingConn()
	conn.failAt = 2
	conn.failErr = cause

	err := framer.Send(conn, sampleSnapshot())

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Send() error = %v, want *TransportError", err)
	}
	if te.Op != "write" || !errors.Is(err, cause) || !errors.Is(err, ErrTransport) {
		t.Errorf("unexpected error shape: %#v", te)
	}
	// STX and the first chunk stay on the wire
	if len(conn.writes) != 2 {
		t.Errorf("got %d writes before failure, want 2", len(conn.writes))
	}
	if n := len(clock.Sleeps()); n != 2 {
		t.Errorf("slept %d times, want 2 (start settle + one chunk delay)", n)
	}
}

func TestFramer_OtherFailures(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name   string
		setup  func(c *recordingConn)
		wantOp string
		wantIs error
	}{
		{"reset", func(c *recordingConn) { c.resetErr = cause }, "reset", cause},
		{"flush", func(c *recordingConn) { c.flushErr = cause }, "flush", cause},
		{"short write", func(c *recordingConn) { c.shortAt = 1 }, "write", io.ErrShortWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newRecordingConn()
			tt.setup(conn)
			err := NewFramer(timeutil.NewMockClock(time.Time{}), DefaultPacing()).Send(conn, sampleSnapshot())

			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Send() error = %v, want *TransportError", err)
			}
			if te.Op != tt.wantOp || !errors.Is(err, tt.wantIs) {
				t.Errorf("got %v, want op %q wrapping %v", err, tt.wantOp, tt.wantIs)
			}
		})
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	for _, frame := range [][]byte{
		nil,
		{STX},
		[]byte("{}\n\x03"),
		[]byte("\x02{}\x03"),
		[]byte("\x02{\x02}\n\x03"),
	} {
		if _, err := DecodeFrame(frame); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeFrame(%q) error = %v, want ErrMalformedFrame", frame, err)
		}
	}
}
