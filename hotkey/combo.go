package hotkey

// evdev key codes and values, from linux/input-event-codes.h.
const (
	evKey = 1

	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2

	keyLCtrl  = 29
	keyRCtrl  = 97
	keyLShift = 42
	keyRShift = 54
	keySpace  = 57
)

type edge int

const (
	edgeNone edge = iota
	edgeDown
	edgeUp
)

// combo tracks modifier state for one keyboard and reports the press and
// release edges of Ctrl+Shift+Space. Releasing a modifier while space is
// held does not end the gesture; only releasing space does.
type combo struct {
	ctrl, shift, space bool
}

func (c *combo) feed(code uint16, value int32) edge {
	if value == keyRepeat {
		return edgeNone
	}
	down := value == keyPress

	switch code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = down
	case keyLShift, keyRShift:
		c.shift = down
	case keySpace:
		if down && !c.space && c.ctrl && c.shift {
			c.space = true
			return edgeDown
		}
		if !down && c.space {
			c.space = false
			return edgeUp
		}
	}
	return edgeNone
}
