// Package gesture maps device input onto the two logical signals a session
// understands. Any number of sources may feed one target; duplicates are
// left for the target to discard based on its own state.
package gesture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"holdtalk/log"
)

// ErrStopped is returned by a source whose input ended on purpose, such as
// a script reaching QUIT.
var ErrStopped = errors.New("gesture input ended")

type Signal int

const (
	Press Signal = iota + 1
	Release
)

func (s Signal) String() string {
	switch s {
	case Press:
		return "press"
	case Release:
		return "release"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

type Event struct {
	Signal Signal
	Origin string // e.g. "hotkey", "mousedown"
}

// Source emits events until ctx is done or its input ends. emit returns
// after the target has handled the event.
type Source interface {
	Run(ctx context.Context, emit func(Event)) error
}

type Target interface {
	Press() error
	Release()
}

// Pump runs every source and delivers their events to target one at a
// time. It returns when all sources have returned, or the first error.
func Pump(ctx context.Context, target Target, sources ...Source) error {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	emit := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		dispatch(target, ev)
	}

	for _, src := range sources {
		g.Go(func() error { return src.Run(ctx, emit) })
	}
	return g.Wait()
}

func dispatch(target Target, ev Event) {
	log.Infof("gesture_%s origin=%s", ev.Signal, ev.Origin)
	switch ev.Signal {
	case Press:
		if err := target.Press(); err != nil {
			log.Warnf("press from %s rejected: %v", ev.Origin, err)
		}
	case Release:
		target.Release()
	}
}
