package cantext

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kstaniek/go-can-dispatch/internal/can"
	"github.com/kstaniek/go-can-dispatch/internal/metrics"
)

var (
	ErrEmptyID          = errors.New("cantext: empty identifier")
	ErrIDTooLong        = errors.New("cantext: identifier longer than 8 hex digits")
	ErrMissingSeparator = errors.New("cantext: missing '#' separator")
	ErrPayloadTooLong   = errors.New("cantext: payload longer than 8 bytes")
)

// extDigits is the identifier width that selects the extended frame space.
const extDigits = 8

// FormatHeader renders the identifier part of the text form. Extended and
// error headers use 8 digits with the RTR/ERR bits taken from the flags and
// the extended bit always cleared; standard headers use 3 digits. Invalid
// standard ids are rendered in full so nothing is truncated.
func FormatHeader(h can.Header, lower bool) string {
	if h.Extended || h.Error {
		id := h.FullID() &^ can.CAN_EFF_FLAG
		if lower {
			return fmt.Sprintf("%08x", id)
		}
		return fmt.Sprintf("%08X", id)
	}
	if lower {
		return fmt.Sprintf("%03x", h.ID)
	}
	return fmt.Sprintf("%03X", h.ID)
}

// ParseHeader parses an identifier of 1 to 8 hex digits. Exactly 8 digits
// select the extended space; bits 30 and 29 then carry the RTR and error
// flags and bit 31 is ignored. Shorter ids are standard ids: a value wider
// than 11 bits is returned without error but fails Valid.
func ParseHeader(s string) (can.Header, error) {
	v, err := parseHex32(s)
	if err != nil {
		return can.Header{}, fmt.Errorf("header %q: %w", s, err)
	}
	if len(s) == extDigits {
		h := can.HeaderFromCANID(v)
		h.Extended = true
		return h, nil
	}
	return can.Header{ID: v}, nil
}

// FormatFrame renders f as "<id>#<payload>". Standard remote frames use the
// payload marker "R".
func FormatFrame(f can.Frame, lower bool) string {
	var b strings.Builder
	b.WriteString(FormatHeader(f.Header, lower))
	b.WriteByte('#')
	if f.RTR && !f.Extended && !f.Error {
		b.WriteByte('R')
		return b.String()
	}
	b.WriteString(Buffer2Hex(f.Payload(), lower))
	return b.String()
}

// ParseFrame parses the text form. Malformed text returns an error; a
// well-formed frame whose id does not fit its class is returned with a nil
// error and must be checked with Valid.
func ParseFrame(s string) (can.Frame, error) {
	f, err := parseFrame(s)
	if err != nil {
		metrics.IncMalformed()
	}
	return f, err
}

func parseFrame(s string) (can.Frame, error) {
	sep := strings.IndexByte(s, '#')
	if sep < 0 {
		return can.Frame{}, fmt.Errorf("frame %q: %w", s, ErrMissingSeparator)
	}
	h, err := ParseHeader(s[:sep])
	if err != nil {
		return can.Frame{}, fmt.Errorf("frame: %w", err)
	}
	f := can.Frame{Header: h}
	payload := s[sep+1:]
	if payload == "R" || payload == "r" {
		f.RTR = true
		return f, nil
	}
	data, err := Hex2Buffer(payload, false)
	if err != nil {
		return can.Frame{}, fmt.Errorf("frame %q payload: %w", s, err)
	}
	if len(data) > can.MaxDLC {
		return can.Frame{}, fmt.Errorf("frame %q: %w (%d)", s, ErrPayloadTooLong, len(data))
	}
	f.DLC = uint8(len(data))
	copy(f.Data[:], data)
	return f, nil
}

// FormatDump renders f in the classic dump tool layout:
// "s|e|E <id>\t<dlc> <bytes...>" or "r" in place of dlc and bytes for remote frames.
func FormatDump(f can.Frame) string {
	var b strings.Builder
	switch {
	case f.Error:
		b.WriteString("E ")
	case f.Extended:
		b.WriteString("e ")
	default:
		b.WriteString("s ")
	}
	fmt.Fprintf(&b, "%x\t", f.ID)
	if f.RTR {
		b.WriteByte('r')
		return b.String()
	}
	fmt.Fprintf(&b, "%d", f.DLC)
	for _, v := range f.Payload() {
		b.WriteByte(' ')
		b.WriteString(Byte2Hex(v, false, true))
	}
	return b.String()
}
