package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedFrame is returned by [DecodeFrame] when a frame cannot be
// interpreted as 16-bit PCM.
var ErrMalformedFrame = errors.New("audio: malformed frame")

// quantize converts a normalised sample to int16 by scaling with 32768 and
// truncating toward zero. Out-of-range input saturates instead of wrapping.
func quantize(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	v := int32(float64(s) * 32768)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// FloatToPCM16 quantizes normalised samples into little-endian int16 bytes.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

// PCM16ToFloat interprets little-endian int16 bytes and divides each sample
// by 32768. The byte count must be even.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedFrame, len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out, nil
}

// F32LEToFloat interprets little-endian IEEE-754 float32 bytes, the format a
// browser AudioWorklet produces. The byte count must be a multiple of four.
func F32LEToFloat(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 samples", ErrMalformedFrame, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// EncodeChunk is the uplink encoder. It is pure: the same chunk always yields
// the same frame, and sample order is preserved.
func EncodeChunk(chunk AudioChunk) TransportFrame {
	rate := chunk.SampleRate
	if rate <= 0 {
		rate = CaptureRate
	}
	return TransportFrame{
		MIMEType: PCMMIMEType(rate),
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(chunk.Samples)),
	}
}

// DecodeFrame is the downlink decoder: base64 text to PCM bytes to normalised
// samples. Frames without a rate tag are assumed to be at [PlaybackRate].
func DecodeFrame(f TransportFrame) (AudioChunk, error) {
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return AudioChunk{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	samples, err := PCM16ToFloat(raw)
	if err != nil {
		return AudioChunk{}, err
	}
	return AudioChunk{
		Samples:    samples,
		SampleRate: f.Rate(PlaybackRate),
	}, nil
}
