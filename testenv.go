package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"holdtalk/audio"
	"holdtalk/config"
	"holdtalk/gesture"
	"holdtalk/log"
	"holdtalk/session"
)

// printer writes one line per finished session and per error. Headless and
// test runs use it as their only output.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) StatusChanged(session.Status) {}

func (p *printer) SessionError(id uuid.UUID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "error\t%s\t%v\n", id, err)
}

func (p *printer) SessionFinished(s session.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	code := 0
	if s.Result != nil {
		code = s.Result.StatusCode
	}
	fmt.Fprintf(p.w, "session\t%s\t%s\t%dms\t%d\t%d\n",
		s.SessionID, s.Outcome(), s.Held.Milliseconds(), len(s.Clip.Data), code)
}

// runTestMode replays wavPath as the microphone and reads gestures from
// in. Besides the gesture commands, WAIT blocks until the current upload
// finished and WAIT_AUDIO_DONE blocks until the WAV has been fully played
// into the running session.
func runTestMode(ctx context.Context, cfg *config.Config, wavPath string, in io.Reader, out io.Writer) int {
	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	a, err := newApp(cfg, appOptions{
		factory:   fake.Factory(),
		observers: []session.Observer{&printer{w: out}},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.src.Close()

	log.AppStart(version, a.client.Endpoint(), cfg.Format, "fake:"+wavPath)

	script := &gesture.Script{
		In:   in,
		Wait: a.ctrl.Wait,
		Commands: map[string]func(){
			"WAIT_AUDIO_DONE": func() {
				capture, err := a.src.Acquire(ctx)
				if err != nil {
					log.Warnf("WAIT_AUDIO_DONE: %v", err)
					return
				}
				if fc, ok := capture.(*audio.FakeCapture); ok {
					<-fc.AudioDone()
				}
			},
		},
	}

	err = gesture.Pump(ctx, a.ctrl, script, a.watch)
	a.ctrl.Close()
	log.AppEnd(a.ctrl.Finished())

	if err != nil && !errors.Is(err, gesture.ErrStopped) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
