package encoder

import (
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096

	// MinSamples is the shortest clip ever produced (10ms). Shorter captures
	// are padded with silence.
	MinSamples = SampleRate / 100
)

const (
	FormatWAV  = "wav"
	FormatFLAC = "flac"
)

// ClipName is the multipart filename the backend expects.
const ClipName = "file"

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	EncodeTime() time.Duration
}

// Clip is one finished, encoded capture. It is never mutated after Encode
// returns it.
type Clip struct {
	Data      []byte
	Name      string
	Format    string
	CreatedAt time.Time
	Samples   uint64
	Encode    time.Duration
}

func (c Clip) Duration() time.Duration {
	return time.Duration(float64(c.Samples) / float64(SampleRate) * float64(time.Second))
}

func (c Clip) RawSize() int {
	return int(c.Samples) * BitsPerSample / 8
}

func New(format string) (Encoder, error) {
	switch format {
	case FormatWAV, "":
		return NewWAV(), nil
	case FormatFLAC:
		return NewFlac()
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// Encode runs samples through a fresh encoder of the given format in
// BlockSize chunks and returns the resulting clip.
func Encode(format string, samples []int16, at time.Time) (Clip, error) {
	if format == "" {
		format = FormatWAV
	}
	enc, err := New(format)
	if err != nil {
		return Clip{}, err
	}

	if len(samples) < MinSamples {
		padded := make([]int16, MinSamples)
		copy(padded, samples)
		samples = padded
	}

	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return Clip{}, fmt.Errorf("encoding %s block at %d: %w", format, i, err)
		}
	}
	if err := enc.Close(); err != nil {
		return Clip{}, fmt.Errorf("closing %s encoder: %w", format, err)
	}

	data := enc.Bytes()
	out := make([]byte, len(data))
	copy(out, data)

	return Clip{
		Data:      out,
		Name:      ClipName,
		Format:    format,
		CreatedAt: at,
		Samples:   enc.TotalFrames(),
		Encode:    enc.EncodeTime(),
	}, nil
}
