package audio

import (
	"context"
	"sync"
	"time"
)

// MockSource produces deterministic PCM frames without touching hardware.
// By default it yields silent frames forever; a scripted frame list and a
// terminal error can be injected for tests. FrameInterval paces ReadFrame to
// mimic a real device; zero means frames are returned immediately.
type MockSource struct {
	Format        Format
	FrameDuration time.Duration
	FrameInterval time.Duration

	// Frames, when non-nil, is served in order instead of silence.
	Frames [][]byte
	// ErrAfterFrames, when non-nil, is returned once Frames are exhausted.
	// When nil the source blocks until the context is canceled.
	ErrAfterFrames error

	mu     sync.Mutex
	opened bool
	closed bool
	next   int
}

func NewMockSource(format Format, frameDuration time.Duration) *MockSource {
	return &MockSource{Format: format, FrameDuration: frameDuration}
}

func (m *MockSource) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDeviceUnavailable
	}
	m.opened = true
	return nil
}

func (m *MockSource) ReadFrame(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	if !m.opened || m.closed {
		m.mu.Unlock()
		return nil, ErrDeviceUnavailable
	}
	var frame []byte
	scripted := m.Frames != nil
	if scripted && m.next < len(m.Frames) {
		frame = m.Frames[m.next]
		m.next++
	}
	errAfter := m.ErrAfterFrames
	m.mu.Unlock()

	if m.FrameInterval > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.FrameInterval):
		}
	} else if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if scripted && frame == nil {
		if errAfter != nil {
			return nil, errAfter
		}
		// Script exhausted; block until the caller stops capture.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if frame != nil {
		return frame, nil
	}
	return make([]byte, m.Format.FrameBytes(m.FrameDuration)), nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.opened = false
	return nil
}
