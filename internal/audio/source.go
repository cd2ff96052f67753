package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceUnavailable means no usable capture device exists.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrDeviceDisconnected means the device dropped mid-stream.
	ErrDeviceDisconnected = errors.New("audio device disconnected")
)

// Format describes the raw PCM stream produced by a source.
type Format struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample
}

// Duration converts a byte count of PCM data into wall time.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// FrameBytes returns the size of one frame of the given duration.
func (f Format) FrameBytes(d time.Duration) int {
	return int(d.Seconds() * float64(f.BytesPerSecond()))
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Source abstracts a live audio device producing fixed-size PCM frames.
//
// Open acquires the device; implementations must release it on every exit
// path. ReadFrame blocks until the next frame is available, the context is
// canceled, or the device fails. After Close, ReadFrame returns an error.
type Source interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}
