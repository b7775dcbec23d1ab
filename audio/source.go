package audio

import (
	"context"
	"fmt"
	"sync"
)

// ContextFactory opens the platform audio context. NewContext is the default.
type ContextFactory func() (Context, error)

// Source owns the process-wide capture stream. The stream is opened on the
// first successful Acquire and handed out unchanged afterwards.
type Source struct {
	newContext ContextFactory
	device     string
	config     CaptureConfig

	mu          sync.Mutex
	ctx         Context
	capture     CaptureDevice
	unsupported error
	acquired    int
}

type SourceOption func(*Source)

// WithDevice selects a capture device by name. Unknown names fall back to
// the system default.
func WithDevice(name string) SourceOption {
	return func(s *Source) { s.device = name }
}

func WithContextFactory(f ContextFactory) SourceOption {
	return func(s *Source) { s.newContext = f }
}

func NewSource(config CaptureConfig, opts ...SourceOption) *Source {
	s := &Source{newContext: NewContext, config: config}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire returns the capture stream, opening it on first use. Ending ctx
// abandons an open that is still blocked in the backend.
func (s *Source) Acquire(ctx context.Context) (CaptureDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unsupported != nil {
		return nil, s.unsupported
	}
	if s.capture != nil {
		s.acquired++
		return s.capture, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.ctx == nil {
		actx, err := s.newContext()
		if err != nil {
			s.unsupported = fmt.Errorf("%w: %v", ErrUnsupported, err)
			return nil, s.unsupported
		}
		s.ctx = actx
	}

	device, err := s.resolveDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	capture, err := s.openCapture(ctx, device)
	if err != nil {
		return nil, err
	}
	s.capture = capture
	s.acquired++
	return capture, nil
}

type openResult struct {
	capture CaptureDevice
	err     error
}

// openCapture runs the backend open so that ctx can end the wait. A stream
// that finishes opening after ctx ended is closed.
func (s *Source) openCapture(ctx context.Context, device *DeviceInfo) (CaptureDevice, error) {
	done := make(chan openResult, 1)
	actx := s.ctx
	go func() {
		capture, err := actx.NewCapture(device, s.config)
		done <- openResult{capture, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, r.err)
		}
		return r.capture, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.capture.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (s *Source) resolveDevice() (*DeviceInfo, error) {
	if s.device == "" {
		return nil, nil
	}
	devices, err := s.ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	for i := range devices {
		if devices[i].Name == s.device {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// Context exposes the underlying audio context once opened, for device
// listing. It returns nil before the first successful Acquire.
func (s *Source) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Acquisitions reports how many times Acquire handed out the stream.
func (s *Source) Acquisitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
	if s.ctx != nil {
		s.ctx.Close()
		s.ctx = nil
	}
}
