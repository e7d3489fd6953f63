// Package stream provides concrete audio devices backed by byte streams: a
// raw PCM reader for files and pipes, a push-fed input for network relays
// and a PCM sink for rendered output.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/memoria/pkg/audio"
)

// Encoding is a raw sample layout.
type Encoding string

const (
	// S16LE is signed 16-bit little-endian PCM.
	S16LE Encoding = "s16le"

	// F32LE is 32-bit little-endian IEEE float PCM.
	F32LE Encoding = "f32le"
)

// IsValid reports whether e is a supported encoding.
func (e Encoding) IsValid() bool {
	return e == S16LE || e == F32LE
}

func (e Encoding) bytesPerSample() int {
	if e == F32LE {
		return 4
	}
	return 2
}

// ReaderOption configures a [Reader].
type ReaderOption func(*Reader)

// WithEncoding sets the sample layout. Defaults to [S16LE].
func WithEncoding(e Encoding) ReaderOption {
	return func(r *Reader) {
		if e.IsValid() {
			r.enc = e
		}
	}
}

// WithSampleRate sets the stream rate. Defaults to [audio.CaptureRate].
func WithSampleRate(rate int) ReaderOption {
	return func(r *Reader) {
		if rate > 0 {
			r.rate = rate
		}
	}
}

// WithStereo declares interleaved two-channel input, downmixed on read.
func WithStereo() ReaderOption {
	return func(r *Reader) {
		r.channels = 2
	}
}

// WithRealtime paces reads to the stream rate, as a live microphone would.
func WithRealtime() ReaderOption {
	return func(r *Reader) {
		r.realtime = true
	}
}

// Reader is an [audio.InputDevice] over raw PCM bytes.
type Reader struct {
	open     func() (io.ReadCloser, error)
	enc      Encoding
	rate     int
	channels int
	realtime bool

	mu      sync.Mutex
	src     io.ReadCloser
	closed  bool
	started time.Time
	read    int64 // samples delivered, for pacing
	scratch []byte
}

var _ audio.InputDevice = (*Reader)(nil)

// NewReader wraps an already open stream.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	return newReader(func() (io.ReadCloser, error) { return io.NopCloser(r), nil }, opts...)
}

// OpenFile returns a device reading path when opened. The path "-" reads
// standard input.
func OpenFile(path string, opts ...ReaderOption) *Reader {
	return newReader(func() (io.ReadCloser, error) {
		if path == "-" {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(path)
	}, opts...)
}

func newReader(open func() (io.ReadCloser, error), opts ...ReaderOption) *Reader {
	r := &Reader{
		open:     open,
		enc:      S16LE,
		rate:     audio.CaptureRate,
		channels: 1,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Open acquires the underlying stream.
func (r *Reader) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("%w: reader closed", audio.ErrDeviceUnavailable)
	}
	if r.src != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := r.open()
	if err != nil {
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	r.src = src
	r.started = time.Now()
	return nil
}

// SampleRate returns the stream rate.
func (r *Reader) SampleRate() int { return r.rate }

// Read fills p with normalised mono samples.
func (r *Reader) Read(p []float32) (int, error) {
	r.mu.Lock()
	src, closed := r.src, r.closed
	r.mu.Unlock()
	if closed {
		return 0, os.ErrClosed
	}
	if src == nil {
		return 0, errors.New("stream: read before open")
	}
	if len(p) == 0 {
		return 0, nil
	}

	frame := r.enc.bytesPerSample() * r.channels
	need := len(p) * frame
	if cap(r.scratch) < need {
		r.scratch = make([]byte, need)
	}
	buf := r.scratch[:need]

	got, err := io.ReadFull(src, buf)
	whole := got / frame
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	for i := range whole {
		p[i] = r.sample(buf[i*frame:])
	}

	if r.realtime && whole > 0 {
		r.read += int64(whole)
		due := r.started.Add(audio.SamplesDuration(int(r.read), r.rate))
		if wait := time.Until(due); wait > 0 {
			time.Sleep(wait)
		}
	}
	return whole, err
}

func (r *Reader) sample(b []byte) float32 {
	var v float32
	for ch := range r.channels {
		off := ch * r.enc.bytesPerSample()
		switch r.enc {
		case F32LE:
			v += math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		default:
			v += float32(int16(binary.LittleEndian.Uint16(b[off:]))) / 32768
		}
	}
	return v / float32(r.channels)
}

// Close releases the stream. Close is idempotent.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.src != nil {
		return r.src.Close()
	}
	return nil
}
