// Package playback turns an ordered stream of downlink audio frames into
// gapless, non-overlapping playback on an output [Device].
//
// The [Scheduler] keeps a single "next free start sample" and places every new
// buffer at max(next, deviceNow). The clock counts samples at the device rate
// so consecutive buffers of any length meet exactly. Interrupt performs a hard cutover: every
// active source is stopped, the active set is emptied and the clock is reset
// so the next buffer starts from the device's current time.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/memoria/pkg/audio"
)

// ErrBacklogFull is returned by [Scheduler.Schedule] when the active set has
// reached the configured bound.
var ErrBacklogFull = errors.New("playback: backlog full")

// ErrClosed is returned when scheduling on a closed scheduler.
var ErrClosed = errors.New("playback: scheduler closed")

// Device is an output device that renders [Source] buffers against its own
// clock.
//
// Clock reports the current device time as the number of samples rendered at
// SampleRate. Play arranges for src to begin at src.StartSample(); the device
// must call src.Finish once the buffer has been fully rendered. Stop silences
// src immediately; after Stop returns no further samples of src may be
// rendered.
type Device interface {
	Clock() int64
	SampleRate() int
	Play(src *Source) error
	Stop(src *Source)
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMaxActive bounds the number of sources that may be scheduled ahead.
// Zero, the default, leaves the active set unbounded.
func WithMaxActive(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxActive = n
		}
	}
}

// Scheduler owns the schedule clock and the set of active sources.
// All methods are safe for concurrent use.
type Scheduler struct {
	device    Device
	maxActive int

	mu     sync.Mutex
	next   int64 // device samples, zero means unset
	seq    uint64
	active map[*Source]struct{}
	closed bool
}

// NewScheduler creates a scheduler that plays on device.
func NewScheduler(device Device, opts ...Option) *Scheduler {
	s := &Scheduler{
		device: device,
		active: make(map[*Source]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Schedule decodes f and schedules it right after the previously scheduled
// source. A malformed frame is rejected with [audio.ErrMalformedFrame] and
// leaves the clock untouched.
func (s *Scheduler) Schedule(f audio.TransportFrame) (*Source, error) {
	chunk, err := audio.DecodeFrame(f)
	if err != nil {
		return nil, err
	}
	return s.ScheduleChunk(chunk)
}

// ScheduleChunk schedules an already decoded chunk, resampling it to the
// device rate when needed.
func (s *Scheduler) ScheduleChunk(chunk audio.AudioChunk) (*Source, error) {
	rate := s.device.SampleRate()
	samples := audio.Resample(chunk.Samples, chunk.SampleRate, rate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.maxActive > 0 && len(s.active) >= s.maxActive {
		s.mu.Unlock()
		return nil, ErrBacklogFull
	}

	start := max(s.next, s.device.Clock())
	s.seq++
	src := &Source{
		id:      s.seq,
		samples: samples,
		rate:    rate,
		start:   start,
		onEnded: s.release,
	}
	s.next = src.EndSample()
	s.active[src] = struct{}{}
	s.mu.Unlock()

	if err := s.device.Play(src); err != nil {
		s.mu.Lock()
		delete(s.active, src)
		if s.next == src.EndSample() {
			s.next = start
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("playback: play source %d: %w", src.id, err)
	}
	return src, nil
}

// Interrupt stops every active source, clears the active set and resets the
// schedule clock. It returns the number of sources that were stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	victims := make([]*Source, 0, len(s.active))
	for src := range s.active {
		victims = append(victims, src)
	}
	clear(s.active)
	s.next = 0
	s.mu.Unlock()

	n := 0
	for _, src := range victims {
		if src.markStopped() {
			s.device.Stop(src)
			n++
		}
	}
	return n
}

// Close interrupts all playback and rejects further scheduling. Close is
// idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Interrupt()
}

// Active returns the number of sources that are scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Next returns the schedule clock as device time; zero means unset.
func (s *Scheduler) Next() time.Duration {
	return audio.SamplesDuration(int(s.NextSample()), s.device.SampleRate())
}

// NextSample returns the schedule clock in device samples.
func (s *Scheduler) NextSample() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// release removes a naturally finished source from the active set.
func (s *Scheduler) release(src *Source) {
	s.mu.Lock()
	delete(s.active, src)
	s.mu.Unlock()
}
