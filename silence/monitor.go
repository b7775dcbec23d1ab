// Package silence notices when a listening session hears nothing. It warns
// after a few seconds and, in toggle mode, ends the session on its own.
package silence

import "time"

const (
	TickInterval = 100 * time.Millisecond

	warnAfter      = 8 * time.Second
	autoCloseAfter = 30 * time.Second

	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // clearing needs more speech than warning (hysteresis)
)

type Event int

const (
	None      Event = iota
	Warn            // no voice detected
	WarnClear       // speech resumed after a warning
	Repeat          // still silent, toggle mode only
	AutoClose       // silent for autoCloseAfter, toggle mode only
)

func (e Event) String() string {
	switch e {
	case Warn:
		return "warn"
	case WarnClear:
		return "warn_clear"
	case Repeat:
		return "repeat"
	case AutoClose:
		return "auto_close"
	}
	return "none"
}

// Monitor keeps a ring of per-tick speech flags covering autoCloseAfter.
type Monitor struct {
	warnAt   int
	windowSz int
	isToggle func() bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastRepeat  int
}

func NewMonitor(isToggle func() bool) *Monitor {
	windowSz := int(autoCloseAfter / TickInterval)
	return &Monitor{
		warnAt:   int(warnAfter / TickInterval),
		windowSz: windowSz,
		isToggle: isToggle,
		window:   make([]bool, windowSz),
	}
}

// ratio is the share of speech ticks among the last n.
func (m *Monitor) ratio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1
	}
	count := 0
	for i := 0; i < n; i++ {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *Monitor) Tick(hasSpeech bool) Event {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = hasSpeech
	if hasSpeech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastRepeat = m.ticks
		return Warn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return WarnClear
	}

	if !m.isToggle() {
		return None
	}

	// auto-close wins over repeat
	if m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return AutoClose
	}
	if m.warned && m.ticks-m.lastRepeat >= m.warnAt {
		m.lastRepeat = m.ticks
		return Repeat
	}
	return None
}
