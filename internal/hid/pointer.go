package hid

// RFB pointer button mask bits (RFC 6143 §7.5.5).
const (
	rfbButtonLeft   = 1 << 0
	rfbButtonMiddle = 1 << 1
	rfbButtonRight  = 1 << 2
	rfbWheelUp      = 1 << 3
	rfbWheelDown    = 1 << 4
)

// Boot mouse report button bits.
const (
	bootButtonLeft   = 1 << 0
	bootButtonRight  = 1 << 1
	bootButtonMiddle = 1 << 2
)

// Pointer translates per-session absolute RFB pointer events into
// relative boot mouse reports. The gadget is a relative device, so each
// event's delta against the previous position is what goes on the wire.
type Pointer struct {
	mgr    *Manager
	hasPos bool
	lastX  uint16
	lastY  uint16
}

// NewPointer creates a pointer translator bound to the manager.
func NewPointer(mgr *Manager) *Pointer {
	return &Pointer{mgr: mgr}
}

// PointerEvent applies one RFB pointer event: button mask plus absolute
// coordinates. The first event only establishes the baseline position.
func (p *Pointer) PointerEvent(mask uint8, x, y uint16) {
	var dx, dy int8
	if p.hasPos {
		dx = clampDelta(int(x) - int(p.lastX))
		dy = clampDelta(int(y) - int(p.lastY))
	}
	p.lastX, p.lastY = x, y
	p.hasPos = true

	var buttons byte
	if mask&rfbButtonLeft != 0 {
		buttons |= bootButtonLeft
	}
	if mask&rfbButtonMiddle != 0 {
		buttons |= bootButtonMiddle
	}
	if mask&rfbButtonRight != 0 {
		buttons |= bootButtonRight
	}

	var wheel int8
	if mask&rfbWheelUp != 0 {
		wheel = 1
	} else if mask&rfbWheelDown != 0 {
		wheel = -1
	}

	p.mgr.WritePointer([PointerReportLen]byte{buttons, byte(dx), byte(dy), byte(wheel)})
}

func clampDelta(d int) int8 {
	if d > 127 {
		return 127
	}
	if d < -127 {
		return -127
	}
	return int8(d)
}
