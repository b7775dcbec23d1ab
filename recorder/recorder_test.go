package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holdtalk/audio"
	"holdtalk/encoder"
)

func pcmOf(samples int, value int16) []byte {
	b := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(value))
	}
	return b
}

func newStream(t *testing.T, pcm []byte) *audio.FakeCapture {
	t.Helper()
	c, err := audio.NewFakeContextPCM(pcm, false).NewCapture(nil, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	require.NoError(t, err)
	return c.(*audio.FakeCapture)
}

func TestLifecycle(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := New(WithClock(func() time.Time { return at }))
	stream := newStream(t, pcmOf(8000, 1000))

	require.NoError(t, r.Begin(stream))
	assert.Equal(t, Capturing, r.State())
	assert.Equal(t, 8000, r.Samples())

	require.NoError(t, r.End())
	assert.Equal(t, Exporting, r.State())

	clip, err := r.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Idle, r.State())
	assert.Equal(t, encoder.ClipName, clip.Name)
	assert.Equal(t, encoder.FormatWAV, clip.Format)
	assert.Equal(t, uint64(8000), clip.Samples)
	assert.Equal(t, 500*time.Millisecond, clip.Duration())
	assert.Equal(t, at, clip.CreatedAt)
	assert.Len(t, clip.Data, encoder.WAVHeaderSize+16000)

	require.NoError(t, r.Clear())
	assert.Equal(t, 0, r.Samples())
}

func TestBeginRequiresClearedBuffer(t *testing.T) {
	r := New()
	stream := newStream(t, pcmOf(100, 1))

	require.NoError(t, r.Begin(stream))
	require.NoError(t, r.End())
	_, err := r.Export(context.Background())
	require.NoError(t, err)

	err = r.Begin(stream)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, r.Clear())
	assert.NoError(t, r.Begin(stream))
}

func TestInvalidTransitions(t *testing.T) {
	r := New()
	stream := newStream(t, nil)

	assert.ErrorIs(t, r.End(), ErrInvalidTransition)
	_, err := r.Export(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, r.Begin(stream))
	assert.ErrorIs(t, r.Begin(stream), ErrInvalidTransition)
	assert.ErrorIs(t, r.Clear(), ErrInvalidTransition)
	_, err = r.Export(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, r.End())
	assert.ErrorIs(t, r.End(), ErrInvalidTransition)
	assert.ErrorIs(t, r.Clear(), ErrInvalidTransition)
}

func TestClearIsIdempotent(t *testing.T) {
	r := New()
	assert.NoError(t, r.Clear())
	assert.NoError(t, r.Clear())
}

func TestEmptyCaptureStillExports(t *testing.T) {
	r := New(WithFormat(encoder.FormatFLAC))
	stream := newStream(t, nil)

	require.NoError(t, r.Begin(stream))
	require.NoError(t, r.End())
	clip, err := r.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(encoder.MinSamples), clip.Samples)
	assert.Equal(t, "fLaC", string(clip.Data[:4]))
}

func TestNoSamplesAfterEnd(t *testing.T) {
	r := New()
	c, err := audio.NewFakeContextPCM(nil, true).NewCapture(nil, audio.CaptureConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Begin(c))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, r.End())
	n := r.Samples()
	assert.Positive(t, n)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, n, r.Samples())
}

func TestExportCanceled(t *testing.T) {
	r := New()
	require.NoError(t, r.Begin(newStream(t, pcmOf(10, 1))))
	require.NoError(t, r.End())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Export(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, Idle, r.State())
	assert.NoError(t, r.Clear())
}

func TestLevelCallback(t *testing.T) {
	var levels []float64
	r := New(WithLevel(func(rms float64) { levels = append(levels, rms) }))
	require.NoError(t, r.Begin(newStream(t, pcmOf(1024, 16384))))
	require.NoError(t, r.End())

	require.NotEmpty(t, levels)
	assert.InDelta(t, 0.5, levels[0], 0.001)
}

type failingStream struct{ *audio.FakeCapture }

func (failingStream) Start() error { return errors.New("device busy") }

func TestBeginStartFailureLeavesIdle(t *testing.T) {
	r := New()
	err := r.Begin(failingStream{newStream(t, nil)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, Idle, r.State())
	assert.NoError(t, r.Begin(newStream(t, nil)))
}
