// Package live defines the Provider interface for real-time voice backends.
//
// A live provider opens a bidirectional streaming session to a hosted speech
// model. Outbound, the caller pushes [audio.TransportFrame] values in the
// order they were captured. Inbound, the session delivers a single ordered
// stream of typed events: the channel opening, audio output chunks, barge-in
// interruptions, and the terminal close or error.
//
// The session does not decode inbound audio; frames are passed through in
// their transport encoding so that malformed chunks can be dropped by the
// consumer without affecting the session.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"fmt"

	"github.com/MrWong99/memoria/pkg/audio"
)

// EventType discriminates the events delivered by [Channel.Events].
type EventType int

const (
	// EventOpen signals that the remote model is ready to receive audio.
	// It is delivered at most once and always first.
	EventOpen EventType = iota + 1

	// EventAudio carries one chunk of synthesised speech in [Event.Frame].
	EventAudio

	// EventInterrupted signals that the model stopped speaking because new
	// user input preempted it. Pending output must be discarded.
	EventInterrupted

	// EventClose signals that the remote side ended the session cleanly.
	// No further events follow.
	EventClose

	// EventError signals that the session failed. [Event.Err] holds the
	// cause. No further events follow.
	EventError
)

// String returns the lower-case event name.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventInterrupted:
		return "interrupted"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one inbound occurrence on a [Channel].
type Event struct {
	Type EventType

	// Frame is set for [EventAudio].
	Frame audio.TransportFrame

	// Err is set for [EventError].
	Err error
}

// Config is the per-session configuration. Both values are passed through to
// the remote model without interpretation.
type Config struct {
	// Voice is the provider-specific voice identity, e.g. "Kore".
	Voice string

	// Instructions is the persona system instruction.
	Instructions string
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputRate is the sample rate the provider expects on the uplink.
	InputRate int

	// OutputRate is the sample rate of the audio the provider produces.
	OutputRate int

	// Voices lists the voice identities the provider accepts.
	Voices []string
}

// HasVoice reports whether voice is one of the advertised voices. An empty
// voice list accepts everything.
func (c Capabilities) HasVoice(voice string) bool {
	if len(c.Voices) == 0 {
		return true
	}
	for _, v := range c.Voices {
		if v == voice {
			return true
		}
	}
	return false
}

// Channel is an open live session.
//
// Send enqueues frames in the order given; no acknowledgement is returned.
// Events returns the inbound stream, which is closed after [EventClose] or
// [EventError] is delivered, or after Close is called locally. Close tears
// down the connection; calling it more than once is safe and returns nil.
type Channel interface {
	Send(ctx context.Context, frame audio.TransportFrame) error
	Events() <-chan Event
	Close() error
}

// Provider is the abstraction over any live voice backend.
type Provider interface {
	// Connect dials the backend and sends the session setup. It returns once
	// the transport is established; readiness is signalled by [EventOpen].
	// The caller owns the Channel and must Close it.
	Connect(ctx context.Context, cfg Config) (Channel, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
