// Package beep plays short audio cues when a session starts, when the
// button is released and when a session fails.
package beep

import (
	"math"

	"github.com/google/uuid"

	"holdtalk/session"
)

const (
	SampleRate = 44100

	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Player plays interleaved stereo int16 samples at SampleRate without
// blocking the caller.
type Player interface {
	Play(samples []int16)
}

// Cues is a session.Observer that maps status changes to sounds.
type Cues struct {
	player Player
	start  []int16
	end    []int16
	fail   []int16
}

func New(p Player) *Cues {
	return &Cues{
		player: p,
		start:  Tick(startFreq, 0.2, startVolume, startDecay),
		end:    Tick(endFreq, 0.2, endVolume, endDecay),
		fail:   DoubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay),
	}
}

func (c *Cues) StatusChanged(s session.Status) {
	switch {
	case s.State == session.Listening && s.Indicator == session.IndicatorActive:
		c.player.Play(c.start)
	case s.State == session.Processing && s.Indicator == session.IndicatorWaiting:
		c.player.Play(c.end)
	}
}

func (c *Cues) SessionError(uuid.UUID, error) { c.player.Play(c.fail) }

func (c *Cues) SessionFinished(session.Summary) {}

// Warn plays the error cue outside of any session event, e.g. for a
// silence warning.
func (c *Cues) Warn() { c.player.Play(c.fail) }

var _ session.Observer = (*Cues)(nil)

// Tick is an exponentially decaying sine burst.
func Tick(freq, duration, volume, decay float64) []int16 {
	n := int(SampleRate * duration)
	samples := make([]int16, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / SampleRate
		envelope := math.Exp(-t * decay)
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return samples
}

func DoubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	beep := Tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(SampleRate*gapDur)*2)
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}

// Silent discards every cue.
type Silent struct{}

func (Silent) Play([]int16) {}
