package stream

import (
	"io"
	"sync"

	"github.com/MrWong99/memoria/pkg/audio"
)

// Sink writes rendered frames to w as signed 16-bit little-endian PCM. The
// first write error is kept and later frames are discarded.
type Sink struct {
	mu  sync.Mutex
	w   io.Writer
	err error
	n   int64
}

// NewSink creates a sink over w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// WriteFrame encodes and writes one frame. Its signature matches the output
// callback of the software mixer.
func (s *Sink) WriteFrame(frame []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	n, err := s.w.Write(audio.FloatToPCM16(frame))
	s.n += int64(n)
	s.err = err
}

// Written returns the number of bytes written so far.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Err returns the first write error.
func (s *Sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
