package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"holdtalk/audio"
	"holdtalk/encoder"
	"holdtalk/log"
	"holdtalk/recorder"
	"holdtalk/upload"
)

// ErrClosed is returned by Press after Close.
var ErrClosed = errors.New("session controller closed")

type Source interface {
	Acquire(ctx context.Context) (audio.CaptureDevice, error)
}

type Recorder interface {
	Begin(stream audio.CaptureDevice) error
	End() error
	Export(ctx context.Context) (encoder.Clip, error)
	Clear() error
}

type Uploader interface {
	Submit(ctx context.Context, clip encoder.Clip) *upload.Ticket
}

type Option func(*Controller)

func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller turns Press/Release gestures into recording sessions. At most
// one session exists at a time; gestures that do not fit the current state
// are ignored.
type Controller struct {
	src Source
	rec Recorder
	up  Uploader
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	gestureMu sync.Mutex // serializes Press and Release
	notifyMu  sync.Mutex // keeps observer callbacks in transition order
	mu        sync.Mutex
	status    Status
	current   *recordingSession
	observers []Observer
	finished  int

	wg sync.WaitGroup
}

func New(src Source, rec Recorder, up Uploader, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		src:    src,
		rec:    rec,
		up:     up,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe registers o for all later notifications.
func (c *Controller) Observe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) State() State {
	return c.Status().State
}

// Finished reports how many sessions have run to completion.
func (c *Controller) Finished() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Press starts a session when idle. Acquiring the microphone may block
// until the user grants access, or until Close. The session is announced
// as Listening only once capture has started; a failed acquire leaves the
// controller idle, or disabled when audio is unsupported, and is returned.
func (c *Controller) Press() error {
	c.gestureMu.Lock()
	defer c.gestureMu.Unlock()

	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.State() != Idle {
		return nil
	}

	sess := &recordingSession{id: uuid.New(), startedAt: c.now()}

	stream, err := c.src.Acquire(c.ctx)
	if err != nil {
		err = fmt.Errorf("acquiring microphone: %w", err)
		if errors.Is(err, audio.ErrUnsupported) {
			c.transition(nil, Disabled, IndicatorInert)
		}
		c.reportError(sess.id, err)
		return err
	}

	if err := c.rec.Begin(stream); err != nil {
		if errors.Is(err, recorder.ErrInvalidTransition) {
			panic(fmt.Sprintf("session: recorder not ready for a new session: %v", err))
		}
		err = fmt.Errorf("starting capture: %w", err)
		c.reportError(sess.id, err)
		return err
	}
	c.transition(sess, Listening, IndicatorActive)
	return nil
}

// Release ends the current session's capture and hands it to the
// export/upload pipeline. It returns without waiting for the pipeline.
func (c *Controller) Release() {
	c.gestureMu.Lock()
	defer c.gestureMu.Unlock()

	c.mu.Lock()
	sess := c.current
	listening := c.status.State == Listening
	c.mu.Unlock()
	if !listening {
		return
	}

	if err := c.rec.End(); err != nil {
		panic(fmt.Sprintf("session: recorder refused to end capture: %v", err))
	}
	sess.releasedAt = c.now()
	c.transition(sess, Processing, IndicatorWaiting)

	c.wg.Add(1)
	go c.process(sess)
}

func (c *Controller) process(sess *recordingSession) {
	defer c.wg.Done()

	sum := Summary{
		SessionID: sess.id,
		Started:   sess.startedAt,
		Held:      sess.releasedAt.Sub(sess.startedAt),
	}

	clip, err := c.rec.Export(c.ctx)
	if errors.Is(err, recorder.ErrInvalidTransition) {
		panic(fmt.Sprintf("session: export out of order: %v", err))
	}
	if err == nil {
		sum.Clip = clip
		sum.Format = clip.Format
		c.transition(sess, Processing, IndicatorLoading)
		sum.Result, err = c.await(c.up.Submit(c.ctx, clip))
	} else {
		err = fmt.Errorf("exporting clip: %w", err)
	}
	if err != nil {
		c.reportError(sess.id, err)
	}
	sum.Err = err

	if cerr := c.rec.Clear(); cerr != nil {
		panic(fmt.Sprintf("session: clearing recorder: %v", cerr))
	}
	sum.Total = c.now().Sub(sess.startedAt)

	c.mu.Lock()
	c.finished++
	c.mu.Unlock()
	c.notify(func(o Observer) { o.SessionFinished(sum) })
	c.transition(nil, Idle, IndicatorNone)
}

func (c *Controller) await(t *upload.Ticket) (*upload.Result, error) {
	select {
	case <-t.Done():
		return t.Result()
	case <-c.ctx.Done():
		return nil, fmt.Errorf("%w: %v", upload.ErrUploadFailed, c.ctx.Err())
	}
}

func (c *Controller) transition(sess *recordingSession, to State, ind Indicator) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	from := c.status
	c.current = sess
	c.status = Status{State: to, Indicator: ind}
	if sess != nil {
		sess.state = to
		c.status.SessionID = sess.id
	}
	status := c.status
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	id := ""
	if sess != nil {
		id = sess.id.String()
	} else if from.SessionID != uuid.Nil {
		id = from.SessionID.String()
	}
	log.Transition(id, from.String(), status.State.String(), string(ind))

	for _, o := range observers {
		o.StatusChanged(status)
	}
}

func (c *Controller) reportError(id uuid.UUID, err error) {
	log.Errorf("session %s: %v", id, err)
	c.notify(func(o Observer) { o.SessionError(id, err) })
}

func (c *Controller) notify(fn func(Observer)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range observers {
		fn(o)
	}
}

// Wait blocks until no pipeline is in flight.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close aborts in-flight uploads and waits for their cleanup. A session
// still listening is released first. Press fails with ErrClosed afterwards.
func (c *Controller) Close() {
	c.cancel()
	c.Release()
	c.wg.Wait()
}
