package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxDLC is the payload limit of a classic CAN frame.
const MaxDLC = 8

// Header is an identifier plus its frame-class flags, without payload.
// ID holds the numeric identifier only (at most 29 bits are kept).
type Header struct {
	ID       uint32
	Extended bool
	RTR      bool
	Error    bool
}

// StdHeader returns a standard (11-bit) data frame header.
func StdHeader(id uint32) Header { return Header{ID: id & CAN_EFF_MASK} }

// ExtHeader returns an extended (29-bit) data frame header.
func ExtHeader(id uint32) Header { return Header{ID: id & CAN_EFF_MASK, Extended: true} }

// RTRHeader returns a standard remote-request header.
func RTRHeader(id uint32) Header { return Header{ID: id & CAN_EFF_MASK, RTR: true} }

// ErrorHeader returns the header shared by all error frames.
func ErrorHeader() Header { return Header{Error: true} }

// HeaderFromCANID splits a raw SocketCAN can_id word into id and flags.
func HeaderFromCANID(raw uint32) Header {
	return Header{
		ID:       raw & CAN_EFF_MASK,
		Extended: raw&CAN_EFF_FLAG != 0,
		RTR:      raw&CAN_RTR_FLAG != 0,
		Error:    raw&CAN_ERR_FLAG != 0,
	}
}

// FullID returns the identifier with all class flags folded into the upper bits.
func (h Header) FullID() uint32 {
	id := h.ID & CAN_EFF_MASK
	if h.Error {
		id |= CAN_ERR_FLAG
	}
	if h.RTR {
		id |= CAN_RTR_FLAG
	}
	if h.Extended {
		id |= CAN_EFF_FLAG
	}
	return id
}

// Key is the value used for filtering and keyed dispatch. All error frames
// share one key regardless of their error class bits.
func (h Header) Key() uint32 {
	if h.Error {
		return CAN_ERR_FLAG
	}
	return h.FullID()
}

// Valid reports whether ID fits the width of its frame class.
func (h Header) Valid() bool {
	if h.Extended {
		return h.ID <= CAN_EFF_MASK
	}
	return h.ID <= CAN_SFF_MASK
}

// Frame is a classic CAN data or remote frame. Only the first DLC bytes of
// Data are meaningful.
type Frame struct {
	Header
	DLC  uint8
	Data [MaxDLC]byte
}

// NewFrame builds a frame for h carrying data. Payloads longer than MaxDLC
// produce a frame whose DLC reports the full length so Valid fails.
func NewFrame(h Header, data ...byte) Frame {
	f := Frame{Header: h, DLC: uint8(len(data))}
	copy(f.Data[:], data)
	return f
}

// Valid reports whether the frame has a legal DLC and identifier.
func (f Frame) Valid() bool { return f.DLC <= MaxDLC && f.Header.Valid() }

// Payload returns the meaningful part of Data.
func (f Frame) Payload() []byte {
	n := int(f.DLC)
	if n > MaxDLC {
		n = MaxDLC
	}
	return f.Data[:n]
}
