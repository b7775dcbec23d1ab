package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"holdtalk/audio"
	"holdtalk/encoder"
)

// ErrInvalidTransition is returned when an operation is called from a state
// that does not allow it.
var ErrInvalidTransition = errors.New("invalid recorder transition")

type State int

const (
	Idle State = iota
	Capturing
	Exporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Exporting:
		return "exporting"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Option func(*Recorder)

// WithFormat selects the clip encoding (encoder.FormatWAV by default).
func WithFormat(format string) Option {
	return func(r *Recorder) { r.format = format }
}

// WithLevel registers a callback fed with the RMS level of each captured
// chunk, in [0, 1]. It runs on the capture thread and must not block.
func WithLevel(fn func(rms float64)) Option {
	return func(r *Recorder) { r.level = fn }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder buffers the samples of one gesture at a time and turns them into
// a clip. Its buffer must be cleared before the next Begin.
type Recorder struct {
	format string
	level  func(float64)
	now    func() time.Time

	mu        sync.Mutex
	state     State
	stream    audio.CaptureDevice
	live      bool // callback is allowed to append
	exporting bool
	dirty     bool // buffer holds a session that was not cleared yet
	buf       []int16
}

func New(opts ...Option) *Recorder {
	r := &Recorder{format: encoder.FormatWAV, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Format() string { return r.format }

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Samples reports how many samples are currently buffered.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Begin attaches to stream and starts buffering.
func (r *Recorder) Begin(stream audio.CaptureDevice) error {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return fmt.Errorf("%w: begin while %s", ErrInvalidTransition, r.state)
	}
	if r.dirty {
		r.mu.Unlock()
		return fmt.Errorf("%w: begin before clear", ErrInvalidTransition)
	}
	r.state = Capturing
	r.stream = stream
	r.live = true
	r.dirty = true
	r.buf = r.buf[:0]
	r.mu.Unlock()

	stream.SetCallback(r.onData)
	if err := stream.Start(); err != nil {
		stream.ClearCallback()
		r.mu.Lock()
		r.state = Idle
		r.stream = nil
		r.live = false
		r.dirty = false
		r.buf = nil
		r.mu.Unlock()
		return fmt.Errorf("starting capture: %w", err)
	}
	return nil
}

func (r *Recorder) onData(data []byte, _ uint32) {
	n := len(data) / 2
	if n == 0 {
		return
	}

	var sumSquares float64
	r.mu.Lock()
	if !r.live {
		r.mu.Unlock()
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		r.buf = append(r.buf, s)
		v := float64(s) / 32768.0
		sumSquares += v * v
	}
	r.mu.Unlock()

	if r.level != nil {
		r.level(math.Sqrt(sumSquares / float64(n)))
	}
}

// End stops the stream. It returns only after the capture callback has
// stopped firing, so the buffer is final.
func (r *Recorder) End() error {
	r.mu.Lock()
	if r.state != Capturing {
		r.mu.Unlock()
		return fmt.Errorf("%w: end while %s", ErrInvalidTransition, r.state)
	}
	r.state = Exporting
	stream := r.stream
	r.mu.Unlock()

	stream.Stop()
	stream.ClearCallback()

	r.mu.Lock()
	r.live = false
	r.stream = nil
	r.mu.Unlock()
	return nil
}

// Export encodes the buffer into exactly one clip and returns the recorder
// to Idle. The buffer is kept until Clear.
func (r *Recorder) Export(ctx context.Context) (encoder.Clip, error) {
	r.mu.Lock()
	if r.state != Exporting || r.live || r.exporting {
		state := r.state
		r.mu.Unlock()
		return encoder.Clip{}, fmt.Errorf("%w: export while %s", ErrInvalidTransition, state)
	}
	r.exporting = true
	samples := r.buf
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.exporting = false
		r.state = Idle
		r.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return encoder.Clip{}, err
	}
	clip, err := encoder.Encode(r.format, samples, r.now())
	if err != nil {
		return encoder.Clip{}, fmt.Errorf("exporting clip: %w", err)
	}
	return clip, nil
}

// Clear releases the buffer. Calling it twice is harmless.
func (r *Recorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return fmt.Errorf("%w: clear while %s", ErrInvalidTransition, r.state)
	}
	r.buf = nil
	r.dirty = false
	return nil
}
