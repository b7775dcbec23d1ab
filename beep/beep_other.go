//go:build !linux

package beep

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"holdtalk/log"
)

// malgoPlayer keeps one playback device open and swaps the buffer it
// drains on every cue.
type malgoPlayer struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	buf atomic.Pointer[[]byte]
	pos atomic.Uint32
}

func NewPlayer() Player {
	p := &malgoPlayer{}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Warnf("beep: malgo context: %v", err)
		return Silent{}
	}
	p.ctx = ctx
	if err := p.initDevice(); err != nil {
		log.Warnf("beep: playback device: %v", err)
		ctx.Uninit()
		return Silent{}
	}
	return p
}

func (p *malgoPlayer) initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 2
	cfg.SampleRate = SampleRate

	dev, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{Data: p.onData})
	if err != nil {
		return err
	}
	p.device = dev
	return nil
}

func (p *malgoPlayer) onData(out, _ []byte, frameCount uint32) {
	want := frameCount * 4
	clear(out[:want])

	b := p.buf.Load()
	if b == nil {
		return
	}
	pos := p.pos.Load()
	n := uint32(copy(out[:want], (*b)[pos:]))
	if pos+n >= uint32(len(*b)) {
		p.buf.Store(nil)
	}
	p.pos.Store(pos + n)
}

func (p *malgoPlayer) Play(samples []int16) {
	if len(samples) == 0 {
		return
	}
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.device.Stop()
	p.pos.Store(0)
	p.buf.Store(&raw)

	if err := p.device.Start(); err != nil {
		// recreate after sleep/wake
		p.device.Uninit()
		if err := p.initDevice(); err != nil {
			p.buf.Store(nil)
			return
		}
		if err := p.device.Start(); err != nil {
			p.buf.Store(nil)
		}
	}
}
