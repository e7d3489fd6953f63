package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MrWong99/memoria/pkg/audio"
)

// Pipe is an [audio.InputDevice] fed by pushing sample slices, typically
// from a network connection relaying a remote microphone.
type Pipe struct {
	rate int
	ch   chan []float32

	mu       sync.Mutex
	pending  []float32
	closed   bool
	done     chan struct{}
	eof      chan struct{}
	eofOnce  sync.Once
	doneOnce sync.Once
}

var _ audio.InputDevice = (*Pipe)(nil)

// NewPipe creates a pipe carrying audio at rate, buffering up to depth
// pushed slices before [Pipe.Write] blocks.
func NewPipe(rate, depth int) *Pipe {
	return &Pipe{
		rate: rate,
		ch:   make(chan []float32, max(1, depth)),
		done: make(chan struct{}),
		eof:  make(chan struct{}),
	}
}

// Open marks the device as acquired.
func (p *Pipe) Open(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("%w: pipe closed", audio.ErrDeviceUnavailable)
	}
	return nil
}

// SampleRate returns the pipe's rate.
func (p *Pipe) SampleRate() int { return p.rate }

// Write pushes samples. It blocks while the buffer is full and fails once
// the pipe is closed.
func (p *Pipe) Write(ctx context.Context, samples []float32) error {
	select {
	case <-p.done:
		return os.ErrClosed
	case <-p.eof:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.ch <- samples:
		return nil
	case <-p.done:
		return os.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseWrite signals that no more samples will be written. Buffered samples
// remain readable, after which Read returns io.EOF.
func (p *Pipe) CloseWrite() {
	p.eofOnce.Do(func() { close(p.eof) })
}

// Read blocks until samples are available.
func (p *Pipe) Read(dst []float32) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(dst, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()

	var next []float32
	select {
	case next = <-p.ch:
	case <-p.done:
		return 0, os.ErrClosed
	case <-p.eof:
		select {
		case next = <-p.ch:
		default:
			return 0, io.EOF
		}
	}

	n := copy(dst, next)
	if n < len(next) {
		p.mu.Lock()
		p.pending = next[n:]
		p.mu.Unlock()
	}
	return n, nil
}

// Close releases the device and unblocks pending reads and writes. Close is
// idempotent.
func (p *Pipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.doneOnce.Do(func() { close(p.done) })
	return nil
}
