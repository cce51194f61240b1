package serialport

import (
	"fmt"
	"time"
)

// Open opens the serial device at path and returns a running Link.
func Open(path string, opts PortOptions, readTimeout time.Duration) (*Link, error) {
	return OpenWith(openSerial, path, opts, readTimeout)
}

// OpenWith is Open with an injectable opener.
func OpenWith(open Opener, path string, opts PortOptions, readTimeout time.Duration) (*Link, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
		}
	}

	return NewLink(port, path), nil
}
