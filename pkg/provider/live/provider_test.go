package live_test

import (
	"testing"

	"github.com/MrWong99/memoria/pkg/provider/live"
)

func TestEventType_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  live.EventType
		want string
	}{
		{live.EventOpen, "open"},
		{live.EventAudio, "audio"},
		{live.EventInterrupted, "interrupted"},
		{live.EventClose, "close"},
		{live.EventError, "error"},
		{live.EventType(99), "EventType(99)"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.typ), got, tt.want)
		}
	}
}

func TestCapabilities_HasVoice(t *testing.T) {
	t.Parallel()

	caps := live.Capabilities{Voices: []string{"Kore", "Puck"}}
	if !caps.HasVoice("Kore") {
		t.Error("HasVoice(Kore) = false")
	}
	if caps.HasVoice("alloy") {
		t.Error("HasVoice(alloy) = true")
	}
	if !(live.Capabilities{}).HasVoice("anything") {
		t.Error("empty voice list should accept any voice")
	}
}
