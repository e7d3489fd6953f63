package mixer

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/memoria/pkg/audio"
	"github.com/MrWong99/memoria/pkg/audio/playback"
)

// Compile-time interface assertion.
var _ playback.Device = (*Mixer)(nil)

// ErrClosed is returned when playing on a closed mixer.
var ErrClosed = errors.New("mixer: closed")

const (
	// DefaultFrameDuration is the length of one rendered output frame.
	DefaultFrameDuration = 20 * time.Millisecond

	// defaultQueueCap is the initial capacity hint for the pending queue.
	defaultQueueCap = 16
)

// Option configures a [Mixer] during construction.
type Option func(*Mixer)

// WithSampleRate sets the output rate. Defaults to [audio.PlaybackRate].
func WithSampleRate(rate int) Option {
	return func(m *Mixer) {
		if rate > 0 {
			m.rate = rate
		}
	}
}

// WithFrameDuration sets how much audio each render pass produces.
func WithFrameDuration(d time.Duration) Option {
	return func(m *Mixer) {
		if d > 0 {
			m.frameDur = d
		}
	}
}

// WithManualClock disables real-time pacing. The clock then only advances
// through [Mixer.Tick], which makes rendering deterministic.
func WithManualClock() Option {
	return func(m *Mixer) {
		m.manual = true
	}
}

// voice is a source that has started rendering.
type voice struct {
	src   *playback.Source
	start int64
}

// Mixer is a software [playback.Device]. Sources are held in a min-heap until
// their start sample is reached, then summed into fixed-size frames that are
// delivered to the output callback.
//
// All exported methods are safe for concurrent use.
type Mixer struct {
	output   func([]float32)
	rate     int
	frameDur time.Duration
	frame    int
	manual   bool

	clock atomic.Int64 // samples rendered so far

	mu      sync.Mutex
	pending sourceHeap
	playing []voice
	seq     uint64
	opened  bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a mixer that delivers rendered frames to output. Frames are
// handed over sequentially and the slice is not reused, so output may retain
// it. A nil output discards audio.
//
// The clock does not run until [Mixer.Open] is called.
func New(output func([]float32), opts ...Option) *Mixer {
	m := &Mixer{
		output:   output,
		rate:     audio.PlaybackRate,
		frameDur: DefaultFrameDuration,
		pending:  make(sourceHeap, 0, defaultQueueCap),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.frame = max(1, int(int64(m.rate)*int64(m.frameDur)/int64(time.Second)))
	heap.Init(&m.pending)
	return m
}

// Open starts the real-time render loop. With [WithManualClock] it only marks
// the device as ready. Open is idempotent while the mixer is running.
func (m *Mixer) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.opened {
		return nil
	}
	m.opened = true
	if !m.manual {
		m.wg.Add(1)
		go m.run(ctx)
	}
	return nil
}

// Clock returns the number of samples rendered so far.
func (m *Mixer) Clock() int64 { return m.clock.Load() }

// Now returns the device time: the amount of audio rendered so far.
func (m *Mixer) Now() time.Duration {
	return audio.SamplesDuration(int(m.clock.Load()), m.rate)
}

// SampleRate returns the output rate in Hz.
func (m *Mixer) SampleRate() int { return m.rate }

// FrameSamples returns the number of samples per rendered frame.
func (m *Mixer) FrameSamples() int { return m.frame }

// Play queues src to start at src.StartSample(). Stopped sources are ignored.
func (m *Mixer) Play(src *playback.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if src.Stopped() {
		return nil
	}
	m.seq++
	heap.Push(&m.pending, entry{
		src:   src,
		start: src.StartSample(),
		seq:   m.seq,
	})
	return nil
}

// Stop removes src from the pending queue or from the set of playing voices.
// No further samples of src are rendered once Stop returns.
func (m *Mixer) Stop(src *playback.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, v := range m.playing {
		if v.src == src {
			m.playing = append(m.playing[:i], m.playing[i+1:]...)
			return
		}
	}
	for i, e := range m.pending {
		if e.src == src {
			heap.Remove(&m.pending, i)
			return
		}
	}
}

// Active returns the number of sources pending or playing.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) + len(m.playing)
}

// Tick renders exactly one frame and advances the clock. It is called by the
// render loop and, with [WithManualClock], by the owner directly.
func (m *Mixer) Tick() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	t0 := m.clock.Load()
	t1 := t0 + int64(m.frame)
	buf := make([]float32, m.frame)

	for m.pending.Len() > 0 && m.pending[0].start < t1 {
		e := heap.Pop(&m.pending).(entry)
		m.playing = append(m.playing, voice{src: e.src, start: e.start})
	}

	var finished []*playback.Source
	kept := m.playing[:0]
	for _, v := range m.playing {
		samples := v.src.Samples()
		for i := range buf {
			pos := t0 + int64(i) - v.start
			if pos >= 0 && pos < int64(len(samples)) {
				buf[i] += samples[pos]
			}
		}
		if v.start+int64(len(samples)) <= t1 {
			finished = append(finished, v.src)
			continue
		}
		kept = append(kept, v)
	}
	clear(m.playing[len(kept):])
	m.playing = kept

	for i, s := range buf {
		buf[i] = min(1, max(-1, s))
	}
	m.clock.Store(t1)
	m.mu.Unlock()

	if m.output != nil {
		m.output(buf)
	}
	for _, src := range finished {
		src.Finish()
	}
}

// Close stops the render loop and drops every queued source without
// finishing it. Close is idempotent.
func (m *Mixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.pending = m.pending[:0]
	m.playing = nil
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// run paces [Mixer.Tick] against the wall clock until the mixer is closed or
// ctx is cancelled.
func (m *Mixer) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}
