package audio

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable is returned when an audio device cannot be acquired.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// InputDevice is a capture source such as a microphone.
//
// Open acquires the device and must fail fast when it is unavailable. Read
// blocks until samples arrive at the device's own cadence and fills p with
// normalised mono samples, returning io.EOF once the source is exhausted.
// Close releases the device; it must be safe to call more than once.
type InputDevice interface {
	Open(ctx context.Context) error
	Read(p []float32) (int, error)
	SampleRate() int
	Close() error
}
