package serialport

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// TestablePort implements Porter with configurable behaviour for testing.
// Reads block until data is added or the port is closed, the way a real port
// with a long read timeout behaves.
type TestablePort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	writes   [][]byte
	readErr  error
	writeErr error
	drainErr error
	resetErr error
	closeErr error

	// failWriteAfter makes the write numbered failWriteAfter+1 fail.
	failWriteAfter int

	closed      bool
	closeCalls  int
	drainCalls  int
	resetCalls  int
	readTimeout time.Duration
}

// NewTestablePort creates a TestablePort with nothing to read.
func NewTestablePort() *TestablePort {
	p := &TestablePort{failWriteAfter: -1}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.readErr == nil && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.readBuf.Len() > 0 {
		return p.readBuf.Read(b)
	}
	err := p.readErr
	p.readErr = nil
	return 0, err
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("serial port closed")
	}
	if p.writeErr != nil && p.failWriteAfter >= 0 && len(p.writes) >= p.failWriteAfter {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *TestablePort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainCalls++
	return p.drainErr
}

func (p *TestablePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetCalls++
	p.readBuf.Reset()
	return p.resetErr
}

func (p *TestablePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCalls++
	p.readCond.Broadcast()
	return p.closeErr
}

// AddReadData queues bytes for subsequent reads.
func (p *TestablePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.readCond.Broadcast()
}

// FailRead makes the pending or next Read return err.
func (p *TestablePort) FailRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.readCond.Broadcast()
}

// FailWriteAfter lets n writes succeed and fails every write after them.
func (p *TestablePort) FailWriteAfter(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWriteAfter = n
	p.writeErr = err
}

// Writes returns a copy of each successful Write call's payload.
func (p *TestablePort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// Written returns every byte written, concatenated.
func (p *TestablePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Join(p.writes, nil)
}

func (p *TestablePort) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func (p *TestablePort) DrainCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drainCalls
}

func (p *TestablePort) ResetCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetCalls
}

func (p *TestablePort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readTimeout
}

// MockOpener returns an Opener that hands out port and records each call.
type MockOpener struct {
	mu    sync.Mutex
	Port  Porter
	Err   error
	Calls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Mode *serial.Mode
}

func (o *MockOpener) Open(path string, mode *serial.Mode) (Porter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls = append(o.Calls, MockOpenCall{Path: path, Mode: mode})
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Port, nil
}
