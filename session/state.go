package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"holdtalk/encoder"
	"holdtalk/upload"
)

type State int

const (
	Idle State = iota
	Listening
	Processing
	// Disabled is terminal: the audio subsystem is unavailable and every
	// gesture is ignored.
	Disabled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Disabled:
		return "disabled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Indicator is the UI hint derived from the controller state.
type Indicator string

const (
	IndicatorNone    Indicator = ""
	IndicatorActive  Indicator = "active"
	IndicatorWaiting Indicator = "waiting"
	IndicatorLoading Indicator = "loading"
	IndicatorInert   Indicator = "inert"
)

// Status is what presentation layers render. SessionID is zero when no
// session is in progress.
type Status struct {
	State     State
	Indicator Indicator
	SessionID uuid.UUID
}

func (s Status) String() string {
	if s.Indicator == IndicatorNone {
		return s.State.String()
	}
	return s.State.String() + "(" + string(s.Indicator) + ")"
}

// Summary describes a finished session, successful or not.
type Summary struct {
	SessionID uuid.UUID
	Format    string
	Started   time.Time
	Held      time.Duration // press to release
	Total     time.Duration // press to idle
	Clip      encoder.Clip
	Result    *upload.Result
	Err       error
}

func (s Summary) Outcome() string {
	if s.Err != nil {
		return "failed"
	}
	return "ok"
}

type recordingSession struct {
	id         uuid.UUID
	state      State
	startedAt  time.Time
	releasedAt time.Time
}

// Observer is notified of every status change, error and finished session,
// in the order they happen. Callbacks run on controller goroutines and must
// not call Press or Release.
type Observer interface {
	StatusChanged(Status)
	SessionError(id uuid.UUID, err error)
	SessionFinished(Summary)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnStatus   func(Status)
	OnError    func(uuid.UUID, error)
	OnFinished func(Summary)
}

func (o ObserverFuncs) StatusChanged(s Status) {
	if o.OnStatus != nil {
		o.OnStatus(s)
	}
}

func (o ObserverFuncs) SessionError(id uuid.UUID, err error) {
	if o.OnError != nil {
		o.OnError(id, err)
	}
}

func (o ObserverFuncs) SessionFinished(s Summary) {
	if o.OnFinished != nil {
		o.OnFinished(s)
	}
}
