// Package visualizer estimates the loudness of the output mix for UI
// feedback. It mirrors a browser analyser node: a short Blackman-windowed
// spectrum, smoothed over time and scaled to bytes between a decibel floor
// and ceiling. The level is purely observational and never touches the
// audio path.
package visualizer

import (
	"context"
	"math"
	"math/cmplx"
	"sync"
	"time"
)

const (
	// DefaultSize is the analysis window in samples.
	DefaultSize = 32

	defaultSmoothing = 0.8
	defaultMinDB     = -100.0
	defaultMaxDB     = -30.0
)

// Option configures a [Sampler].
type Option func(*Sampler)

// WithSize sets the analysis window. Values below 2 are ignored.
func WithSize(n int) Option {
	return func(s *Sampler) {
		if n >= 2 {
			s.size = n
		}
	}
}

// WithSmoothing sets the time constant applied between polls, in [0, 1).
func WithSmoothing(tc float64) Option {
	return func(s *Sampler) {
		if tc >= 0 && tc < 1 {
			s.smoothing = tc
		}
	}
}

// Sampler keeps the most recent window of output samples.
type Sampler struct {
	size      int
	smoothing float64
	minDB     float64
	maxDB     float64

	mu       sync.Mutex
	ring     []float32
	pos      int
	smoothed []float64
}

// New creates a sampler.
func New(opts ...Option) *Sampler {
	s := &Sampler{
		size:      DefaultSize,
		smoothing: defaultSmoothing,
		minDB:     defaultMinDB,
		maxDB:     defaultMaxDB,
	}
	for _, o := range opts {
		o(s)
	}
	s.ring = make([]float32, s.size)
	s.smoothed = make([]float64, s.size/2)
	return s
}

// Observe copies the tail of frame into the analysis window. It never
// blocks: when a poll holds the window the frame is skipped.
func (s *Sampler) Observe(frame []float32) {
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()

	if len(frame) > s.size {
		frame = frame[len(frame)-s.size:]
	}
	for _, v := range frame {
		s.ring[s.pos] = v
		s.pos = (s.pos + 1) % s.size
	}
}

// Spectrum returns size/2 byte-scaled magnitudes of the current window.
func (s *Sampler) Spectrum() []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.size
	window := make([]float64, n)
	for i := range n {
		x := float64(s.ring[(s.pos+i)%n])
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n)) + 0.08*math.Cos(4*math.Pi*float64(i)/float64(n))
		window[i] = x * w
	}

	out := make([]uint8, n/2)
	for k := range out {
		var sum complex128
		for i, x := range window {
			sum += complex(x, 0) * cmplx.Exp(complex(0, -2*math.Pi*float64(k*i)/float64(n)))
		}
		mag := cmplx.Abs(sum) / float64(n)
		s.smoothed[k] = s.smoothing*s.smoothed[k] + (1-s.smoothing)*mag

		db := 20 * math.Log10(s.smoothed[k])
		scaled := 255 / (s.maxDB - s.minDB) * (db - s.minDB)
		out[k] = uint8(math.Max(0, math.Min(255, math.Floor(scaled))))
	}
	return out
}

// Level returns the mean of [Sampler.Spectrum], in [0, 255].
func (s *Sampler) Level() float64 {
	bins := s.Spectrum()
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		sum += float64(b)
	}
	return sum / float64(len(bins))
}

// Run polls the level at hz and reports it to fn until ctx is done.
func (s *Sampler) Run(ctx context.Context, hz int, fn func(level float64)) {
	if hz <= 0 || fn == nil {
		return
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(s.Level())
		}
	}
}
