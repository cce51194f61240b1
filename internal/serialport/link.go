package serialport

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by operations on a closed Link.
var ErrClosed = errors.New("serial link closed")

// MaxLineLength caps the inbound line buffer. A peer that never sends a
// newline has its bytes delivered as one over-long line.
const MaxLineLength = 4096

type inbound struct {
	data  []byte
	epoch uint64
}

// Link is an open duplex connection to the peripheral. A single reader
// goroutine pulls bytes off the port; everything else (writes, resets, line
// polling and Close) must be called from the goroutine that owns the Link.
type Link struct {
	port Porter
	path string

	chunks  chan inbound
	readErr chan error
	done    chan struct{}
	wg      sync.WaitGroup

	// epoch is bumped by ResetInput so chunks read before the reset are
	// dropped when they are finally consumed.
	epoch atomic.Uint64

	pending []byte
	failed  error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewLink wraps an already opened port and starts reading from it.
func NewLink(port Porter, path string) *Link {
	l := &Link{
		port:    port,
		path:    path,
		chunks:  make(chan inbound, 64),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.readLoop()
	return l
}

// Path returns the device path the link was opened on.
func (l *Link) Path() string { return l.path }

func (l *Link) readLoop() {
	defer l.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			c := inbound{data: append([]byte(nil), buf[:n]...), epoch: l.epoch.Load()}
			select {
			case l.chunks <- c:
			case <-l.done:
				return
			}
		}
		if err != nil {
			select {
			case l.readErr <- err:
			case <-l.done:
			}
			return
		}
		select {
		case <-l.done:
			return
		default:
		}
	}
}

// Write writes p to the port.
func (l *Link) Write(p []byte) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	return l.port.Write(p)
}

// Flush blocks until written bytes have left the host.
func (l *Link) Flush() error {
	if l.closed.Load() {
		return ErrClosed
	}
	return l.port.Drain()
}

// ResetInput discards every inbound byte not yet returned by ReadLine,
// including bytes still queued in the OS driver.
func (l *Link) ResetInput() error {
	if l.closed.Load() {
		return ErrClosed
	}
	err := l.port.ResetInputBuffer()
	l.epoch.Add(1)
	l.pending = l.pending[:0]
	for {
		select {
		case <-l.chunks:
			continue
		default:
		}
		break
	}
	return err
}

// ReadLine returns one complete line, terminator included, if one has been
// received. It never blocks. ok is false when no full line is buffered yet.
// A read failure on the port is returned once every complete line received
// before it has been consumed.
func (l *Link) ReadLine() (line []byte, ok bool, err error) {
	if l.closed.Load() {
		return nil, false, ErrClosed
	}
	l.collect()

	if line, ok := l.nextLine(); ok {
		return line, true, nil
	}
	if l.failed != nil {
		return nil, false, l.failed
	}
	return nil, false, nil
}

// Buffered reports bytes received but not yet returned as part of a line.
func (l *Link) Buffered() int {
	l.collect()
	return len(l.pending)
}

func (l *Link) collect() {
	current := l.epoch.Load()
	for {
		select {
		case c := <-l.chunks:
			if c.epoch == current {
				l.pending = append(l.pending, c.data...)
			}
			continue
		case err := <-l.readErr:
			if l.failed == nil {
				l.failed = err
			}
			continue
		default:
		}
		return
	}
}

func (l *Link) nextLine() ([]byte, bool) {
	idx := bytes.IndexByte(l.pending, '\n')
	if idx < 0 {
		if len(l.pending) < MaxLineLength {
			return nil, false
		}
		idx = MaxLineLength - 1
	}
	line := append([]byte(nil), l.pending[:idx+1]...)
	l.pending = append(l.pending[:0], l.pending[idx+1:]...)
	return line, true
}

// Close closes the port and stops the reader. Only the first call closes the
// port; later calls return the same result.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
		l.closeErr = l.port.Close()
		l.wg.Wait()
	})
	return l.closeErr
}
