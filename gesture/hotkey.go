package gesture

import (
	"context"

	"holdtalk/hotkey"
)

// FromHotkey maps key down to Press and key up to Release.
func FromHotkey(hk hotkey.Hotkey) Source {
	return hotkeySource{hk}
}

type hotkeySource struct {
	hk hotkey.Hotkey
}

func (s hotkeySource) Run(ctx context.Context, emit func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.hk.Keydown():
			emit(Event{Signal: Press, Origin: "hotkey"})
		case <-s.hk.Keyup():
			emit(Event{Signal: Release, Origin: "hotkey"})
		}
	}
}

// FromHybrid maps the tap/hold hotkey onto Press and Release. The hybrid
// is closed when ctx ends.
func FromHybrid(hy *hotkey.Hybrid) Source {
	return hybridSource{hy}
}

type hybridSource struct {
	hy *hotkey.Hybrid
}

func (s hybridSource) Run(ctx context.Context, emit func(Event)) error {
	defer s.hy.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.hy.Start():
			emit(Event{Signal: Press, Origin: "hotkey"})
		case <-s.hy.StopChan():
			emit(Event{Signal: Release, Origin: "hotkey_" + string(s.hy.Mode())})
		}
	}
}
