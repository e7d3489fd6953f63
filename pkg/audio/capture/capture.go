// Package capture turns an [audio.InputDevice] into a bounded stream of
// fixed-size [audio.AudioChunk] values at the uplink rate.
//
// The tap reads on its own goroutine. When the consumer falls behind the
// queue fills up and the tap stops reading, so back-pressure reaches the
// device instead of growing memory.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MrWong99/memoria/pkg/audio"
)

const (
	// DefaultChunkSamples matches the 4096-sample processor buffer of the
	// browser client.
	DefaultChunkSamples = 4096

	// DefaultQueue is the number of chunks buffered between capture and
	// encode.
	DefaultQueue = 8
)

// Option configures a [Tap].
type Option func(*Tap)

// WithChunkSamples sets the chunk size in samples at the target rate.
func WithChunkSamples(n int) Option {
	return func(t *Tap) {
		if n > 0 {
			t.chunk = n
		}
	}
}

// WithQueue sets the capacity of the chunk channel.
func WithQueue(n int) Option {
	return func(t *Tap) {
		if n > 0 {
			t.queue = n
		}
	}
}

// WithTargetRate sets the rate chunks are delivered at. Defaults to
// [audio.CaptureRate].
func WithTargetRate(rate int) Option {
	return func(t *Tap) {
		if rate > 0 {
			t.rate = rate
		}
	}
}

// Tap reads an input device and emits fixed-size chunks.
type Tap struct {
	dev   audio.InputDevice
	chunk int
	queue int
	rate  int

	mu      sync.Mutex
	err     error
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a tap over dev. The device must already be open.
func New(dev audio.InputDevice, opts ...Option) *Tap {
	t := &Tap{
		dev:   dev,
		chunk: DefaultChunkSamples,
		queue: DefaultQueue,
		rate:  audio.CaptureRate,
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start launches the read loop. The returned channel is closed when the
// device is exhausted, fails, or the tap is stopped. Start may only be
// called once.
func (t *Tap) Start(ctx context.Context) (<-chan audio.AudioChunk, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil, errors.New("capture: tap already started")
	}
	t.started = true

	ctx, t.cancel = context.WithCancel(ctx)
	out := make(chan audio.AudioChunk, t.queue)
	go t.loop(ctx, out)
	return out, nil
}

// Stop cancels the read loop. A Read already blocked in the device returns
// once the device is closed. Stop is idempotent.
func (t *Tap) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Done is closed when the read loop has exited.
func (t *Tap) Done() <-chan struct{} { return t.done }

// Err returns the device error that ended the loop, if any. A clean end of
// input is not an error.
func (t *Tap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tap) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *Tap) loop(ctx context.Context, out chan<- audio.AudioChunk) {
	defer close(t.done)
	defer close(out)

	devRate := t.dev.SampleRate()
	if devRate <= 0 {
		devRate = t.rate
	}
	size := max(1, int(int64(t.chunk)*int64(devRate)/int64(t.rate)))
	buf := make([]float32, size)
	fill := 0
	var produced int

	emit := func(samples []float32) bool {
		c := audio.AudioChunk{
			Samples:    audio.Resample(append([]float32(nil), samples...), devRate, t.rate),
			SampleRate: t.rate,
			Timestamp:  audio.SamplesDuration(produced, devRate),
		}
		produced += len(samples)
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		n, err := t.dev.Read(buf[fill:])
		fill += n
		if fill == len(buf) {
			if !emit(buf) {
				return
			}
			fill = 0
		}
		if err != nil {
			if fill > 0 && errors.Is(err, io.EOF) {
				emit(buf[:fill])
			}
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				t.setErr(fmt.Errorf("capture: read: %w", err))
			}
			return
		}
	}
}
