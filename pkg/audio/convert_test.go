package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/memoria/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_CaptureToPlayback(t *testing.T) {
	// 2 samples at 16kHz -> 3 samples at 24kHz.
	pcm := samplesToBytes([]int16{1000, 2000})
	got := bytesToSamples(audio.ResampleMono16(pcm, audio.CaptureRate, audio.PlaybackRate))
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	if out := audio.ResampleMono16(pcm, 0, 24000); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero srcRate, got len %d", len(out))
	}
	if out := audio.ResampleMono16(pcm, 24000, -1); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for negative dstRate, got len %d", len(out))
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []float32
		src, dst int
		wantLen  int
	}{
		{name: "same rate", in: []float32{0.1, 0.2, 0.3}, src: 16000, dst: 16000, wantLen: 3},
		{name: "upsample 48k to 16k input", in: make([]float32, 4800), src: 48000, dst: 16000, wantLen: 1600},
		{name: "16k to 24k", in: make([]float32, 1600), src: 16000, dst: 24000, wantLen: 2400},
		{name: "empty", in: nil, src: 16000, dst: 24000, wantLen: 0},
		{name: "zero src rate", in: []float32{0.5}, src: 0, dst: 24000, wantLen: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Resample(tt.in, tt.src, tt.dst); len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResample_Interpolates(t *testing.T) {
	got := audio.Resample([]float32{0, 1}, 1, 2)
	want := []float32{0, 0.5, 1, 1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}
