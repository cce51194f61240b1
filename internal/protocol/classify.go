package protocol

import (
	"strings"
	"unicode/utf8"
)

// Reply prefixes sent by the peripheral.
const (
	PrefixSuccess = "OK:"
	PrefixFailure = "ERROR:"
)

// Kind classifies a reply line.
type Kind int

const (
	Unclassified Kind = iota
	Success
	Failure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unclassified"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Response is one classified reply line.
type Response struct {
	Kind Kind
	Text string
	// Err is a *DecodeError when the line was not valid UTF-8.
	Err error
}

// LineReader yields complete inbound lines without blocking.
type LineReader interface {
	ReadLine() (line []byte, ok bool, err error)
}

// Classify maps a decoded line to a Response. Blank lines yield no result.
func Classify(line string) (Response, bool) {
	text := strings.TrimSpace(line)
	if text == "" {
		return Response{}, false
	}
	switch {
	case strings.HasPrefix(text, PrefixFailure):
		return Response{Kind: Failure, Text: text}, true
	case strings.HasPrefix(text, PrefixSuccess):
		return Response{Kind: Success, Text: text}, true
	default:
		return Response{Kind: Unclassified, Text: text}, true
	}
}

// Poll reads at most one buffered line from r and classifies it. It returns
// immediately with ok false when no complete line is waiting. Bytes that are
// not valid UTF-8 come back as Unclassified with a *DecodeError in
// Response.Err; only a read failure is returned as an error.
func Poll(r LineReader) (Response, bool, error) {
	raw, ok, err := r.ReadLine()
	if err != nil {
		return Response{}, false, &TransportError{Op: "read", Err: err}
	}
	if !ok {
		return Response{}, false, nil
	}

	if !utf8.Valid(raw) {
		text := strings.TrimSpace(strings.ToValidUTF8(string(raw), string(utf8.RuneError)))
		return Response{
			Kind: Unclassified,
			Text: text,
			Err:  &DecodeError{Raw: raw, Offset: invalidOffset(raw)},
		}, true, nil
	}
	resp, ok := Classify(string(raw))
	return resp, ok, nil
}

func invalidOffset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}
