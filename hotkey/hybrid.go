package hotkey

import (
	"sync"
	"sync/atomic"
	"time"
)

type Mode string

const (
	ModePTT    Mode = "ptt"
	ModeToggle Mode = "toggle"
)

// Hybrid lets one key combination do both hold-to-talk and tap-to-toggle.
// Every key press starts a recording immediately. Holding past longPress
// ends it on release; a shorter tap keeps it running until the next
// press-and-release.
type Hybrid struct {
	startCh chan struct{}
	stopCh  chan struct{}
	resetCh chan struct{}
	done    chan struct{}
	once    sync.Once
	toggle  atomic.Bool
}

func NewHybrid(hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		startCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}, 1),
		resetCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go h.run(hk, longPress)
	return h
}

func (h *Hybrid) Start() <-chan struct{} { return h.startCh }

func (h *Hybrid) StopChan() <-chan struct{} { return h.stopCh }

// IsToggle reports whether the current recording was started by a tap.
func (h *Hybrid) IsToggle() bool { return h.toggle.Load() }

func (h *Hybrid) Mode() Mode {
	if h.IsToggle() {
		return ModeToggle
	}
	return ModePTT
}

// Reset abandons a toggle recording that was ended by something other than
// the key, so the next tap starts a new recording instead of stopping the
// old one. It has no effect outside toggle mode.
func (h *Hybrid) Reset() {
	if h.IsToggle() {
		signal(h.resetCh)
	}
}

func (h *Hybrid) Close() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hybrid) wait(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hybrid) run(hk Hotkey, longPress time.Duration) {
	for {
		if !h.wait(hk.Keydown()) {
			return
		}
		h.toggle.Store(false)
		select {
		case <-h.resetCh:
		default:
		}
		signal(h.startCh)

		timer := time.NewTimer(longPress)
		select {
		case <-h.done:
			timer.Stop()
			return
		case <-timer.C:
			if !h.wait(hk.Keyup()) {
				return
			}
		case <-hk.Keyup():
			timer.Stop()
			h.toggle.Store(true)
			select {
			case <-h.done:
				return
			case <-h.resetCh:
				h.toggle.Store(false)
				continue
			case <-hk.Keydown():
			}
			if !h.wait(hk.Keyup()) {
				return
			}
		}
		signal(h.stopCh)
	}
}
