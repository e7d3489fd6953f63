package playback

import (
	"sync"
	"time"

	"github.com/MrWong99/memoria/pkg/audio"
)

// Source is one scheduled unit of decoded audio. It is owned by the
// [Scheduler] from creation until it ends naturally or is stopped.
type Source struct {
	id      uint64
	samples []float32
	rate    int
	start   int64 // device sample index

	mu      sync.Mutex
	ended   bool
	stopped bool
	onEnded func(*Source)
}

// ID returns the scheduler-assigned sequence number of the source.
func (s *Source) ID() uint64 { return s.id }

// Samples returns the decoded buffer at [Source.SampleRate].
func (s *Source) Samples() []float32 { return s.samples }

// SampleRate returns the rate of the buffer in Hz.
func (s *Source) SampleRate() int { return s.rate }

// StartSample returns the device sample at which playback begins.
func (s *Source) StartSample() int64 { return s.start }

// EndSample returns the first device sample after the buffer.
func (s *Source) EndSample() int64 { return s.start + int64(len(s.samples)) }

// Start returns the device time at which playback begins.
func (s *Source) Start() time.Duration { return audio.SamplesDuration(int(s.start), s.rate) }

// Duration returns the buffer length.
func (s *Source) Duration() time.Duration { return audio.SamplesDuration(len(s.samples), s.rate) }

// End returns the device time at which playback finishes.
func (s *Source) End() time.Duration { return audio.SamplesDuration(int(s.EndSample()), s.rate) }

// Stopped reports whether the source was forcibly stopped.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Ended reports whether the source finished playing naturally.
func (s *Source) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Finish is called by the [Device] once the last sample has been rendered.
// It is a no-op on a stopped or already finished source.
func (s *Source) Finish() {
	s.mu.Lock()
	if s.ended || s.stopped {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onEnded
	s.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

// markStopped flags the source as stopped. It returns false when the source
// already ended or was stopped earlier.
func (s *Source) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.stopped {
		return false
	}
	s.stopped = true
	return true
}
