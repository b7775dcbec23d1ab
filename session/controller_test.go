package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holdtalk/audio"
	"holdtalk/encoder"
	"holdtalk/recorder"
	"holdtalk/upload"
)

// callLog records the order of collaborator calls across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(s string) int {
	n := 0
	for _, c := range l.list() {
		if c == s {
			n++
		}
	}
	return n
}

type spyRecorder struct {
	log *callLog
	rec *recorder.Recorder
}

func (s *spyRecorder) Begin(stream audio.CaptureDevice) error {
	s.log.add("begin")
	return s.rec.Begin(stream)
}

func (s *spyRecorder) End() error {
	s.log.add("end")
	return s.rec.End()
}

func (s *spyRecorder) Export(ctx context.Context) (encoder.Clip, error) {
	s.log.add("export")
	return s.rec.Export(ctx)
}

func (s *spyRecorder) Clear() error {
	s.log.add("clear")
	return s.rec.Clear()
}

type spySource struct {
	log *callLog
	src *audio.Source
}

func (s *spySource) Acquire(ctx context.Context) (audio.CaptureDevice, error) {
	s.log.add("acquire")
	return s.src.Acquire(ctx)
}

// manualUploader hands tickets to the test, which completes them.
type manualUploader struct {
	log     *callLog
	tickets chan *upload.Ticket
}

func (u *manualUploader) Submit(_ context.Context, clip encoder.Clip) *upload.Ticket {
	u.log.add("submit")
	t := upload.NewTicket(clip)
	u.tickets <- t
	return t
}

type instantUploader struct {
	log *callLog
	err error
}

func (u *instantUploader) Submit(_ context.Context, clip encoder.Clip) *upload.Ticket {
	u.log.add("submit")
	t := upload.NewTicket(clip)
	t.Complete(&upload.Result{StatusCode: 200, ClipSize: len(clip.Data)}, u.err)
	return t
}

type harness struct {
	log      *callLog
	fake     *audio.FakeContext
	src      *audio.Source
	statuses chan Status
	errs     chan error
	done     chan Summary
}

func newHarness(t *testing.T, pcm []byte) *harness {
	t.Helper()
	h := &harness{
		log:      &callLog{},
		fake:     audio.NewFakeContextPCM(pcm, false),
		statuses: make(chan Status, 64),
		errs:     make(chan error, 16),
		done:     make(chan Summary, 16),
	}
	h.src = audio.NewSource(audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
		audio.WithContextFactory(h.fake.Factory()))
	t.Cleanup(h.src.Close)
	return h
}

func (h *harness) controller(up Uploader) *Controller {
	return New(&spySource{log: h.log, src: h.src}, &spyRecorder{log: h.log, rec: recorder.New()}, up,
		WithObserver(ObserverFuncs{
			OnStatus:   func(s Status) { offer(h.statuses, s) },
			OnError:    func(_ uuid.UUID, err error) { offer(h.errs, err) },
			OnFinished: func(s Summary) { offer(h.done, s) },
		}))
}

// offer drops values once the test stops reading.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (h *harness) drainStatuses() []Status {
	var out []Status
	for {
		select {
		case s := <-h.statuses:
			out = append(out, s)
		default:
			return out
		}
	}
}

func indicators(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.String()
	}
	return out
}

func TestCompletedSessionTransitions(t *testing.T) {
	h := newHarness(t, make([]byte, 3200))
	c := h.controller(&instantUploader{log: h.log})
	defer c.Close()

	require.NoError(t, c.Press())
	assert.Equal(t, Listening, c.State())
	id := c.Status().SessionID
	assert.NotEqual(t, uuid.Nil, id)

	c.Release()
	c.Wait()

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, []string{
		"listening(active)",
		"processing(waiting)",
		"processing(loading)",
		"idle",
	}, indicators(h.drainStatuses()))
	assert.Equal(t, []string{"acquire", "begin", "end", "export", "submit", "clear"}, h.log.list())

	sum := <-h.done
	assert.Equal(t, id, sum.SessionID)
	assert.NoError(t, sum.Err)
	assert.Equal(t, "ok", sum.Outcome())
	assert.Equal(t, uint64(1600), sum.Clip.Samples)
	assert.Equal(t, 1, c.Finished())
}

func TestDuplicatePressIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	c := h.controller(&instantUploader{log: h.log})
	defer c.Close()

	// mousedown and touchstart from the same physical gesture
	require.NoError(t, c.Press())
	require.NoError(t, c.Press())

	assert.Equal(t, 1, h.log.count("begin"))
	assert.Len(t, h.drainStatuses(), 1)

	c.Release()
	c.Wait()
	assert.Equal(t, 1, h.log.count("clear"))
}

func TestReleaseWithoutPressIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	c := h.controller(&instantUploader{log: h.log})
	defer c.Close()

	c.Release()
	c.Release()
	c.Wait()

	assert.Zero(t, h.log.count("end"))
	assert.Empty(t, h.drainStatuses())
	assert.Equal(t, Idle, c.State())
}

func TestGesturesIgnoredWhileProcessing(t *testing.T) {
	h := newHarness(t, nil)
	up := &manualUploader{log: h.log, tickets: make(chan *upload.Ticket, 1)}
	c := h.controller(up)
	defer c.Close()

	require.NoError(t, c.Press())
	c.Release()
	ticket := <-up.tickets

	require.NoError(t, c.Press())
	c.Release()
	assert.Equal(t, Processing, c.State())
	assert.Equal(t, IndicatorLoading, c.Status().Indicator)
	assert.Equal(t, 1, h.log.count("begin"))
	assert.Equal(t, 1, h.log.count("end"))
	assert.Zero(t, h.log.count("clear"), "clear must wait for upload completion")

	ticket.Complete(&upload.Result{StatusCode: 200}, nil)
	c.Wait()
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, h.log.count("clear"))

	// a fresh gesture works once idle again
	require.NoError(t, c.Press())
	assert.Equal(t, 2, h.log.count("begin"))
}

func TestInterleavedGesturesKeepOneSession(t *testing.T) {
	h := newHarness(t, make([]byte, 640))
	c := h.controller(&instantUploader{log: h.log})
	defer c.Close()

	var maxActive atomic.Int32
	var sessions sync.Map
	c.Observe(ObserverFuncs{OnStatus: func(s Status) {
		if s.State == Listening || s.State == Processing {
			sessions.Store(s.SessionID, true)
			n := int32(0)
			sessions.Range(func(_, _ any) bool { n++; return true })
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
		} else {
			sessions.Range(func(k, _ any) bool { sessions.Delete(k); return true })
		}
	}})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				c.Press()
				c.Release()
			}
		}()
	}
	wg.Wait()
	c.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, h.log.count("begin"), h.log.count("end"))
	assert.Equal(t, h.log.count("end"), h.log.count("clear"))
	assert.Equal(t, Idle, c.State())
}

func TestPipelineOrdering(t *testing.T) {
	h := newHarness(t, make([]byte, 1000))
	c := h.controller(&instantUploader{log: h.log})
	defer c.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Press())
		c.Release()
		c.Wait()
	}

	calls := h.log.list()
	require.Len(t, calls, 18)
	for i := 0; i < 3; i++ {
		assert.Equal(t, []string{"acquire", "begin", "end", "export", "submit", "clear"}, calls[i*6:i*6+6])
	}
	assert.Equal(t, 3, h.src.Acquisitions())
}

func TestPermissionDeniedThenRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.fake.DenyNext(1)
	c := h.controller(&instantUploader{log: h.log})
	defer c.Close()

	err := c.Press()
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	assert.Equal(t, Idle, c.State())
	assert.ErrorIs(t, <-h.errs, audio.ErrPermissionDenied)
	assert.Zero(t, h.log.count("begin"))
	assert.Empty(t, h.drainStatuses(), "a press that never captured must not announce a session")

	require.NoError(t, c.Press())
	assert.Equal(t, Listening, c.State())
	assert.Equal(t, []string{"listening(active)"}, indicators(h.drainStatuses()))
	c.Release()
	c.Wait()
	assert.Equal(t, Idle, c.State())
}

func TestUnsupportedDisablesController(t *testing.T) {
	log := &callLog{}
	src := audio.NewSource(audio.CaptureConfig{}, audio.WithContextFactory(audio.UnsupportedFactory()))
	c := New(&spySource{log: log, src: src}, &spyRecorder{log: log, rec: recorder.New()}, &instantUploader{log: log})
	defer c.Close()

	require.ErrorIs(t, c.Press(), audio.ErrUnsupported)
	assert.Equal(t, Disabled, c.State())
	assert.Equal(t, IndicatorInert, c.Status().Indicator)

	require.NoError(t, c.Press())
	c.Release()
	assert.Equal(t, 1, log.count("acquire"))
	assert.Zero(t, log.count("begin"))
}

func TestUploadFailureStillCleansUp(t *testing.T) {
	h := newHarness(t, make([]byte, 200))
	c := h.controller(&instantUploader{log: h.log, err: errors.New("network down")})
	defer c.Close()

	require.NoError(t, c.Press())
	c.Release()
	c.Wait()

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, h.log.count("clear"))
	assert.EqualError(t, <-h.errs, "network down")
	sum := <-h.done
	assert.Equal(t, "failed", sum.Outcome())

	require.NoError(t, c.Press(), "controller must accept a new session after a failed upload")
}

func TestUploadTransportErrorAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := upload.New(url)
	require.NoError(t, err)

	h := newHarness(t, make([]byte, 200))
	c := h.controller(client)
	defer c.Close()

	require.NoError(t, c.Press())
	c.Release()
	c.Wait()

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, h.log.count("clear"))
	assert.ErrorIs(t, <-h.errs, upload.ErrUploadFailed)
}

func TestUploadTimeoutReturnsToIdle(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	client, err := upload.New(srv.URL, upload.WithTimeout(100*time.Millisecond))
	require.NoError(t, err)

	h := newHarness(t, nil)
	c := h.controller(client)
	defer c.Close()

	require.NoError(t, c.Press())
	c.Release()
	c.Wait()

	assert.Equal(t, Idle, c.State())
	err = <-h.errs
	assert.ErrorIs(t, err, upload.ErrUploadFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseAbortsPendingUpload(t *testing.T) {
	h := newHarness(t, nil)
	up := &manualUploader{log: h.log, tickets: make(chan *upload.Ticket, 1)}
	c := h.controller(up)

	require.NoError(t, c.Press())
	c.Release()
	<-up.tickets

	c.Close()
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, h.log.count("clear"))
	assert.ErrorIs(t, c.Press(), ErrClosed)
}

func TestCloseReleasesListeningSession(t *testing.T) {
	h := newHarness(t, nil)
	c := h.controller(&instantUploader{log: h.log})

	require.NoError(t, c.Press())
	c.Close()

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 1, h.log.count("end"))
	assert.Equal(t, 1, h.log.count("clear"))
}

// Press at t=0, release at t=500ms against a real endpoint.
func TestHalfSecondGestureUploadsOneClip(t *testing.T) {
	var posts atomic.Int32
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		bodies <- b
	}))
	defer srv.Close()

	client, err := upload.New(srv.URL)
	require.NoError(t, err)

	fake := audio.NewFakeContextPCM(nil, true)
	src := audio.NewSource(audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
		audio.WithContextFactory(fake.Factory()))
	defer src.Close()

	done := make(chan Summary, 1)
	c := New(src, recorder.New(), client,
		WithObserver(ObserverFuncs{OnFinished: func(s Summary) { done <- s }}))
	defer c.Close()

	require.NoError(t, c.Press())
	time.Sleep(500 * time.Millisecond)
	c.Release()
	c.Wait()

	sum := <-done
	require.NoError(t, sum.Err)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, int32(1), posts.Load())
	assert.Equal(t, sum.Clip.Data, <-bodies)
	assert.InDelta(t, 500, sum.Clip.Duration().Milliseconds(), 200)
	assert.Equal(t, http.StatusOK, sum.Result.StatusCode)
}
