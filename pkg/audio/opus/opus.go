// Package opus packs mono float audio into 20 ms Opus packets for clients
// that cannot afford raw PCM bandwidth.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/memoria/pkg/audio"
)

const (
	frameMs = 20

	// maxPacket bounds a single encoded packet.
	maxPacket = 4000
)

// Encoder accumulates samples and emits one packet per complete 20 ms frame.
// It is not safe for concurrent use.
type Encoder struct {
	enc     *gopus.Encoder
	frame   int
	pending []int16
}

// NewEncoder creates a mono voice encoder at rate (8, 12, 16, 24 or 48 kHz).
func NewEncoder(rate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(rate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, frame: rate * frameMs / 1000}, nil
}

// FrameSamples returns the number of samples per packet.
func (e *Encoder) FrameSamples() int { return e.frame }

// Encode appends samples and returns the packets for every complete frame.
// Remaining samples are kept for the next call.
func (e *Encoder) Encode(samples []float32) ([][]byte, error) {
	pcm := audio.FloatToPCM16(samples)
	for i := 0; i+1 < len(pcm); i += 2 {
		e.pending = append(e.pending, int16(pcm[i])|int16(pcm[i+1])<<8)
	}

	var packets [][]byte
	for len(e.pending) >= e.frame {
		pkt, err := e.enc.Encode(e.pending[:e.frame], e.frame, maxPacket)
		if err != nil {
			return packets, fmt.Errorf("opus: encode: %w", err)
		}
		packets = append(packets, pkt)
		e.pending = e.pending[e.frame:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return packets, nil
}
