package protocol

import (
	"errors"
	"fmt"
)

// ErrTransport matches every *TransportError via errors.Is.
var ErrTransport = errors.New("transport failure")

// ErrMalformedFrame is returned by DecodeFrame for bytes that are not a
// complete frame.
var ErrMalformedFrame = errors.New("malformed frame")

// TransportError is an I/O failure on the connection. It ends the session
// that hit it.
type TransportError struct {
	Op  string // "reset", "write", "flush" or "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DecodeError reports an inbound line that is not valid UTF-8. It is a
// diagnostic only.
type DecodeError struct {
	Raw    []byte
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid UTF-8 at byte %d in %q", e.Offset, e.Raw)
}
