// Package transport moves frames between the text form and byte streams.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/cantext"
)

// FrameSink is a generic CAN frame transmission target.
type FrameSink interface {
	SendFrame(can.Frame) error
}

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	Next() (can.Frame, error)
}

var (
	_ FrameSink   = (*TextWriter)(nil)
	_ FrameSource = (*TextScanner)(nil)
)

// TextWriter writes one canonical text frame per line. Safe for concurrent use.
type TextWriter struct {
	mu    sync.Mutex
	w     io.Writer
	lower bool
}

// NewTextWriter returns a TextWriter on w; lower selects lowercase hex.
func NewTextWriter(w io.Writer, lower bool) *TextWriter {
	return &TextWriter{w: w, lower: lower}
}

func (t *TextWriter) SendFrame(f can.Frame) error {
	line := cantext.FormatFrame(f, t.lower) + "\n"
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.w, line); err != nil {
		return fmt.Errorf("text write: %w", err)
	}
	return nil
}

// LineError reports a malformed line; it wraps the codec error.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

// TextScanner reads canonical text frames, one per line. Blank lines and
// lines starting with ';' or "//" are skipped. A leading candump-style
// "(timestamp) iface " prefix is tolerated.
type TextScanner struct {
	sc   *bufio.Scanner
	line int
}

func NewTextScanner(r io.Reader) *TextScanner {
	return &TextScanner{sc: bufio.NewScanner(r)}
}

// Next returns the next frame. Malformed lines yield a *LineError; scanning
// may continue afterwards. io.EOF marks the end of input.
func (t *TextScanner) Next() (can.Frame, error) {
	for t.sc.Scan() {
		t.line++
		text := strings.TrimSpace(t.sc.Text())
		if text == "" || strings.HasPrefix(text, ";") || strings.HasPrefix(text, "//") {
			continue
		}
		if fields := strings.Fields(text); len(fields) > 1 {
			text = fields[len(fields)-1]
		}
		f, err := cantext.ParseFrame(text)
		if err != nil {
			return can.Frame{}, &LineError{Line: t.line, Text: text, Err: err}
		}
		if !f.Valid() {
			return can.Frame{}, &LineError{Line: t.line, Text: text, Err: ErrInvalidFrame}
		}
		return f, nil
	}
	if err := t.sc.Err(); err != nil {
		return can.Frame{}, fmt.Errorf("text scan: %w", err)
	}
	return can.Frame{}, io.EOF
}

// ErrInvalidFrame marks well-formed text describing an invalid frame.
var ErrInvalidFrame = errors.New("invalid frame")
