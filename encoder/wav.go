package encoder

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"
)

const WAVHeaderSize = 44

// WAVEncoder buffers PCM16 mono samples and emits a canonical RIFF/WAVE file
// on Close, since the header carries the final data size.
type WAVEncoder struct {
	pcm         bytes.Buffer
	out         []byte
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
	mu          sync.Mutex
}

func NewWAV() *WAVEncoder {
	return &WAVEncoder{}
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if err := binary.Write(&e.pcm, binary.LittleEndian, block); err != nil {
		return err
	}
	e.totalFrames += uint64(len(block))
	e.encodeTime += time.Since(start)
	return nil
}

func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	start := time.Now()
	e.out = append(wavHeader(uint32(e.pcm.Len())), e.pcm.Bytes()...)
	e.pcm.Reset()
	e.closed = true
	e.encodeTime += time.Since(start)
	return nil
}

func (e *WAVEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.out
}

func (e *WAVEncoder) TotalFrames() uint64 {
	return e.totalFrames
}

func (e *WAVEncoder) EncodeTime() time.Duration {
	return e.encodeTime
}

func wavHeader(dataSize uint32) []byte {
	const blockAlign = Channels * BitsPerSample / 8

	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], WAVHeaderSize-8+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], SampleRate*blockAlign)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// PCMFromWAV strips a canonical header and returns the raw PCM16 payload.
func PCMFromWAV(data []byte) []byte {
	if len(data) > WAVHeaderSize && string(data[0:4]) == "RIFF" {
		return data[WAVHeaderSize:]
	}
	return data
}
