package protocol

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		line   string
		want   Response
		wantOK bool
	}{
		{"OK:done\n", Response{Kind: Success, Text: "OK:done"}, true},
		{"ERROR:bad\r\n", Response{Kind: Failure, Text: "ERROR:bad"}, true},
		{"hello", Response{Kind: Unclassified, Text: "hello"}, true},
		{"  OK: spaced  ", Response{Kind: Success, Text: "OK: spaced"}, true},
		{"ok:lowercase", Response{Kind: Unclassified, Text: "ok:lowercase"}, true},
		{"ERROR", Response{Kind: Unclassified, Text: "ERROR"}, true},
		{"", Response{}, false},
		{" \t\r\n", Response{}, false},
	}
	for _, tt := range tests {
		got, ok := Classify(tt.line)
		if ok != tt.wantOK {
			t.Errorf("Classify(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Classify(%q) mismatch (-want +got):\n%s", tt.line, diff)
		}
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{Success: "success", Failure: "failure", Unclassified: "unclassified"} {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}

type scriptedLines struct {
	lines [][]byte
	err   error
}

func (s *scriptedLines) ReadLine() ([]byte, bool, error) {
	if len(s.lines) > 0 {
		line := s.lines[0]
		s.lines = s.lines[1:]
		return line, true, nil
	}
	if s.err != nil {
		return nil, false, s.err
	}
	return nil, false, nil
}

func TestPoll(t *testing.T) {
	r := &scriptedLines{lines: [][]byte{
		[]byte("OK:done\n"),
		[]byte("\n"),
		[]byte("ERROR:bad\n"),
	}}

	resp, ok, err := Poll(r)
	if err != nil || !ok || resp.Kind != Success {
		t.Fatalf("first poll = %+v, %v, %v", resp, ok, err)
	}
	if _, ok, err := Poll(r); ok || err != nil {
		t.Fatalf("blank line should yield nothing, got ok=%v err=%v", ok, err)
	}
	resp, ok, err = Poll(r)
	if err != nil || !ok || resp.Kind != Failure || resp.Text != "ERROR:bad" {
		t.Fatalf("third poll = %+v, %v, %v", resp, ok, err)
	}
	if _, ok, err := Poll(r); ok || err != nil {
		t.Fatalf("empty buffer should yield nothing, got ok=%v err=%v", ok, err)
	}
}

func TestPoll_InvalidUTF8(t *testing.T) {
	raw := []byte("OK:\xff\xfedone\n")
	resp, ok, err := Poll(&scriptedLines{lines: [][]byte{raw}})
	if err != nil {
		t.Fatalf("decode problems must not be fatal, got %v", err)
	}
	if !ok {
		t.Fatal("expected a result for undecodable bytes")
	}
	if resp.Kind != Unclassified {
		t.Errorf("Kind = %v, want unclassified", resp.Kind)
	}
	if resp.Text != "OK:�done" {
		t.Errorf("Text = %q", resp.Text)
	}

	var de *DecodeError
	if !errors.As(resp.Err, &de) {
		t.Fatalf("Err = %v, want *DecodeError", resp.Err)
	}
	want := &DecodeError{Raw: raw, Offset: 3}
	if diff := cmp.Diff(want, de, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("DecodeError mismatch (-want +got):\n%s", diff)
	}
}

func TestPoll_ReadError(t *testing.T) {
	cause := errors.New("device disconnected")
	_, ok, err := Poll(&scriptedLines{err: cause})
	if ok {
		t.Error("no result expected on read failure")
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "read" || !errors.Is(err, cause) {
		t.Fatalf("Poll() error = %v, want read TransportError wrapping cause", err)
	}
	if !errors.Is(err, ErrTransport) {
		t.Error("read failures must match ErrTransport")
	}
}
