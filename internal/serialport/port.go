// Package serialport owns the byte-stream link to the peripheral: opening the
// port with go.bug.st/serial, finding it by USB serial number, and buffering
// inbound bytes so lines can be polled without blocking.
package serialport

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Porter is the part of serial.Port the link needs. The abstraction lets unit
// tests run without serial hardware.
type Porter interface {
	io.ReadWriteCloser
	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
	// Drain blocks until everything written has been transmitted.
	Drain() error
	// SetReadTimeout bounds how long Read may block. A Read that times out
	// returns 0, nil.
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port at path with the given mode.
type Opener func(path string, mode *serial.Mode) (Porter, error)

var _ Porter = serial.Port(nil)

func openSerial(path string, mode *serial.Mode) (Porter, error) {
	return serial.Open(path, mode)
}
