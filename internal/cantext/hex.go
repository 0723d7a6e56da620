// Package cantext converts CAN frames, headers and filters to and from the
// SocketCAN text dump form "<hex-id>#<hex-payload>".
package cantext

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidHex is returned when input contains a non-hex character.
	ErrInvalidHex = errors.New("cantext: invalid hex digit")
	// ErrOddLength is returned for an odd number of hex digits without padding.
	ErrOddLength = errors.New("cantext: odd hex length")
)

const (
	upperDigits = "0123456789ABCDEF"
	lowerDigits = "0123456789abcdef"
)

// Hex2Dec converts a single hex digit (either case). ok is false for any
// other character.
func Hex2Dec(h byte) (d uint8, ok bool) {
	switch {
	case h >= '0' && h <= '9':
		return h - '0', true
	case h >= 'a' && h <= 'f':
		return h - 'a' + 10, true
	case h >= 'A' && h <= 'F':
		return h - 'A' + 10, true
	}
	return 0, false
}

// Dec2Hex converts a value 0..15 to its hex digit.
func Dec2Hex(d uint8, lower bool) (h byte, ok bool) {
	if d > 0xF {
		return 0, false
	}
	if lower {
		return lowerDigits[d], true
	}
	return upperDigits[d], true
}

// Byte2Hex renders d as two hex digits, or a single digit for values below
// 0x10 when pad is false.
func Byte2Hex(d uint8, pad, lower bool) string {
	hi, _ := Dec2Hex(d>>4, lower)
	lo, _ := Dec2Hex(d&0xF, lower)
	if !pad && hi == '0' {
		return string(lo)
	}
	return string([]byte{hi, lo})
}

// Buffer2Hex renders every byte of in as two hex digits.
func Buffer2Hex(in []byte, lower bool) string {
	var b strings.Builder
	b.Grow(2 * len(in))
	for _, v := range in {
		b.WriteString(Byte2Hex(v, true, lower))
	}
	return b.String()
}

// Hex2Buffer decodes a hex string into bytes. With pad set, an odd-length
// input is treated as if it had a leading zero; otherwise it is an error.
func Hex2Buffer(in string, pad bool) ([]byte, error) {
	if len(in)%2 != 0 {
		if !pad {
			return nil, ErrOddLength
		}
		in = "0" + in
	}
	out := make([]byte, len(in)/2)
	for i := 0; i < len(in); i += 2 {
		hi, ok1 := Hex2Dec(in[i])
		lo, ok2 := Hex2Dec(in[i+1])
		if !ok1 || !ok2 {
			return nil, ErrInvalidHex
		}
		out[i/2] = hi<<4 | lo
	}
	return out, nil
}

// parseHex32 parses up to 8 hex digits without a prefix.
func parseHex32(s string) (uint32, error) {
	if s == "" {
		return 0, ErrEmptyID
	}
	if len(s) > 8 {
		return 0, ErrIDTooLong
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		d, ok := Hex2Dec(s[i])
		if !ok {
			return 0, ErrInvalidHex
		}
		v = v<<4 | uint32(d)
	}
	return v, nil
}
