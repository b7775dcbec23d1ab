package silence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"holdtalk/gesture"
	"holdtalk/log"
	"holdtalk/session"
)

// SpeechLevel is the chunk RMS above which a chunk counts as speech.
const SpeechLevel = 0.02

// Watch follows the controller status and the capture level. While a
// session is listening it ticks a Monitor and reports its events; on
// AutoClose it emits a Release gesture.
type Watch struct {
	isToggle func() bool
	onEvent  func(Event)
	interval time.Duration

	mu      sync.Mutex
	mon     *Monitor
	chunks  int
	speechy int
}

// NewWatch builds a watch. isToggle reports whether the current session
// was started by a tap; onEvent may be nil.
func NewWatch(isToggle func() bool, onEvent func(Event)) *Watch {
	if isToggle == nil {
		isToggle = func() bool { return false }
	}
	return &Watch{isToggle: isToggle, onEvent: onEvent, interval: TickInterval}
}

// Level feeds the RMS of one captured chunk. Safe to call from the capture
// thread.
func (w *Watch) Level(rms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mon == nil {
		return
	}
	w.chunks++
	if rms >= SpeechLevel {
		w.speechy++
	}
}

func (w *Watch) StatusChanged(s session.Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.State == session.Listening {
		if w.mon == nil {
			w.mon = NewMonitor(w.isToggle)
			w.chunks, w.speechy = 0, 0
		}
		return
	}
	w.mon = nil
}

func (w *Watch) SessionError(uuid.UUID, error) {}

func (w *Watch) SessionFinished(session.Summary) {}

var _ session.Observer = (*Watch)(nil)

// tick advances the monitor by one interval. It reports None when no
// session is listening.
func (w *Watch) tick() Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mon == nil {
		return None
	}
	hasSpeech := w.chunks > 0 && float64(w.speechy)/float64(w.chunks) >= speechMinRatio
	w.chunks, w.speechy = 0, 0
	ev := w.mon.Tick(hasSpeech)
	if ev == AutoClose {
		w.mon = nil
	}
	return ev
}

// Run implements gesture.Source.
func (w *Watch) Run(ctx context.Context, emit func(gesture.Event)) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		ev := w.tick()
		if ev == None {
			continue
		}
		log.Infof("silence_%s", ev)
		if w.onEvent != nil {
			w.onEvent(ev)
		}
		if ev == AutoClose {
			emit(gesture.Event{Signal: gesture.Release, Origin: "silence"})
		}
	}
}

var _ gesture.Source = (*Watch)(nil)
