package transport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/cantext"
)

func TestTextWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewTextWriter(&buf, true)
	if err := w.SendFrame(can.NewFrame(can.StdHeader(0x123), 0xAB)); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if err := w.SendFrame(can.NewFrame(can.ExtHeader(0x1337))); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if got := buf.String(); got != "123#ab\n00001337#\n" {
		t.Fatalf("output %q", got)
	}
}

func TestTextScanner(t *testing.T) {
	in := strings.Join([]string{
		"; replay fixture",
		"",
		"123#11",
		"(1700000000.000000) vcan0 00001337#2233",
		"1337#11",
		"zz#",
		"7DF#R",
	}, "\n")
	sc := NewTextScanner(strings.NewReader(in))

	f, err := sc.Next()
	if err != nil || f.ID != 0x123 || f.DLC != 1 {
		t.Fatalf("first=%+v,%v", f, err)
	}
	f, err = sc.Next()
	if err != nil || !f.Extended || f.ID != 0x1337 {
		t.Fatalf("second=%+v,%v", f, err)
	}
	_, err = sc.Next()
	var le *LineError
	if !errors.As(err, &le) || le.Line != 5 || !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected invalid frame at line 5, got %v", err)
	}
	_, err = sc.Next()
	if !errors.Is(err, cantext.ErrInvalidHex) {
		t.Fatalf("expected ErrInvalidHex, got %v", err)
	}
	f, err = sc.Next()
	if err != nil || !f.RTR {
		t.Fatalf("rtr=%+v,%v", f, err)
	}
	if _, err = sc.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}
