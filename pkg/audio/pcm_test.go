package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/memoria/pkg/audio"
)

func TestEncodeChunk_Tag(t *testing.T) {
	t.Parallel()

	f := audio.EncodeChunk(audio.AudioChunk{Samples: []float32{0}, SampleRate: audio.CaptureRate})
	if f.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q, want %q", f.MIMEType, "audio/pcm;rate=16000")
	}
}

func TestEncodeChunk_Truncates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.5, 16384},
		{-0.5, -16384},
		{1.0 / 32768 * 1.5, 1},   // 1.5 truncates to 1
		{-1.0 / 32768 * 1.5, -1}, // -1.5 truncates toward zero
		{-1, -32768},
		{1, 32767}, // saturates
		{2, 32767},
		{-3, -32768},
	}
	for _, tt := range tests {
		f := audio.EncodeChunk(audio.AudioChunk{Samples: []float32{tt.in}, SampleRate: 16000})
		raw, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			t.Fatalf("decode base64: %v", err)
		}
		got := bytesToSamples(raw)
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("EncodeChunk(%v) = %v, want [%d]", tt.in, got, tt.want)
		}
	}
}

func TestEncodeChunk_Deterministic(t *testing.T) {
	t.Parallel()

	c := audio.AudioChunk{Samples: []float32{0.1, -0.2, 0.3, -0.4}, SampleRate: 16000}
	a, b := audio.EncodeChunk(c), audio.EncodeChunk(c)
	if a != b {
		t.Errorf("EncodeChunk not deterministic: %+v vs %+v", a, b)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	in := make([]float32, 1000)
	for i := range in {
		in[i] = float32(math.Sin(float64(i)*0.05)) * 0.999
	}
	in[0], in[1], in[2] = -1, 1, 0

	f := audio.EncodeChunk(audio.AudioChunk{Samples: in, SampleRate: 16000})
	out, err := audio.DecodeFrame(f)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", out.SampleRate)
	}
	if len(out.Samples) != len(in) {
		t.Fatalf("len = %d, want %d", len(out.Samples), len(in))
	}
	for i := range in {
		if d := math.Abs(float64(out.Samples[i] - in[i])); d > 1.0/32768 {
			t.Errorf("sample %d: |%v - %v| = %v exceeds 1/32768", i, out.Samples[i], in[i], d)
		}
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "odd length", data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
		{name: "bad base64", data: "!!not base64!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.DecodeFrame(audio.TransportFrame{MIMEType: "audio/pcm;rate=24000", Data: tt.data})
			if !errors.Is(err, audio.ErrMalformedFrame) {
				t.Errorf("err = %v, want ErrMalformedFrame", err)
			}
		})
	}
}

func TestDecodeFrame_DefaultsToPlaybackRate(t *testing.T) {
	t.Parallel()

	raw := samplesToBytes([]int16{16384, -16384})
	c, err := audio.DecodeFrame(audio.TransportFrame{Data: base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if c.SampleRate != audio.PlaybackRate {
		t.Errorf("SampleRate = %d, want %d", c.SampleRate, audio.PlaybackRate)
	}
	if c.Samples[0] != 0.5 || c.Samples[1] != -0.5 {
		t.Errorf("Samples = %v, want [0.5 -0.5]", c.Samples)
	}
}

func TestTransportFrame_Rate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=16000", 16000},
		{"audio/pcm; rate=24000", 24000},
		{"audio/pcm", 24000},
		{"", 24000},
		{"audio/pcm;rate=abc", 24000},
		{";;;", 24000},
	}
	for _, tt := range tests {
		if got := (audio.TransportFrame{MIMEType: tt.mime}).Rate(24000); got != tt.want {
			t.Errorf("Rate(%q) = %d, want %d", tt.mime, got, tt.want)
		}
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	t.Parallel()

	c := audio.AudioChunk{Samples: make([]float32, 2400), SampleRate: 24000}
	if got := c.Duration().Milliseconds(); got != 100 {
		t.Errorf("Duration = %dms, want 100ms", got)
	}
}

func TestF32LEToFloat(t *testing.T) {
	t.Parallel()

	want := []float32{0, 0.5, -1, 0.25}
	b := make([]byte, 0, len(want)*4)
	for _, v := range want {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	got, err := audio.F32LEToFloat(b)
	if err != nil {
		t.Fatalf("F32LEToFloat: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := audio.F32LEToFloat([]byte{1, 2, 3}); !errors.Is(err, audio.ErrMalformedFrame) {
		t.Errorf("partial sample: err = %v, want ErrMalformedFrame", err)
	}
}
