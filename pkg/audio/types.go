package audio

import (
	"fmt"
	"mime"
	"strconv"
	"time"
)

// Rates used by the live voice pipeline.
const (
	// CaptureRate is the rate the remote speech model expects for uplink audio.
	CaptureRate = 16000

	// PlaybackRate is the rate the remote speech model produces downlink audio at.
	PlaybackRate = 24000
)

// AudioChunk is a run of mono samples normalised to [-1.0, 1.0].
// Chunks are immutable once produced; consumers must not modify Samples.
type AudioChunk struct {
	// Samples holds the normalised mono audio.
	Samples []float32

	// SampleRate in Hz (16000 for microphone input, 24000 for model output).
	SampleRate int

	// Timestamp marks when this chunk was produced, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the chunk at its sample rate.
func (c AudioChunk) Duration() time.Duration {
	return SamplesDuration(len(c.Samples), c.SampleRate)
}

// SamplesDuration converts a sample count at rate into a duration.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// TransportFrame is the text-safe wire form of an [AudioChunk]: base64 of
// little-endian 16-bit PCM bytes plus a MIME tag such as
// "audio/pcm;rate=16000".
type TransportFrame struct {
	MIMEType string
	Data     string
}

// PCMMIMEType returns the MIME tag for raw 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// Rate extracts the rate parameter from the frame's MIME tag. A missing or
// unparsable tag yields fallback.
func (f TransportFrame) Rate(fallback int) int {
	if f.MIMEType == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(f.MIMEType)
	if err != nil {
		return fallback
	}
	r, err := strconv.Atoi(params["rate"])
	if err != nil || r <= 0 {
		return fallback
	}
	return r
}
