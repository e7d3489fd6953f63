package memorial

import (
	"strings"
	"testing"
)

func TestMemorial_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		m       Memorial
		wantErr []string
	}{
		{
			name: "valid minimal",
			m:    Memorial{ID: "1", Name: "Grandma", Context: "You are Grandma."},
		},
		{
			name: "processing needs no context",
			m:    Memorial{ID: "4", Name: "Uncle", Status: StatusProcessing},
		},
		{
			name:    "missing id and name",
			m:       Memorial{Context: "x"},
			wantErr: []string{"id must not be empty", "name must not be empty"},
		},
		{
			name:    "unknown status",
			m:       Memorial{ID: "1", Name: "A", Context: "x", Status: "archived"},
			wantErr: []string{`got "archived"`},
		},
		{
			name:    "missing context",
			m:       Memorial{ID: "9", Name: "A"},
			wantErr: []string{`memorial "9": context must not be empty`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.m.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() = %q, want it to contain %q", err, want)
				}
			}
		})
	}
}

func TestMemorial_VoiceAndCallable(t *testing.T) {
	t.Parallel()

	m := Memorial{}
	if got := m.Voice(); got != DefaultVoice {
		t.Errorf("Voice() = %q, want %q", got, DefaultVoice)
	}
	m.VoiceName = "Puck"
	if got := m.Voice(); got != "Puck" {
		t.Errorf("Voice() = %q, want Puck", got)
	}

	if !(&Memorial{Status: StatusSimulation}).Callable() {
		t.Error("simulation memorial should be callable")
	}
	if (&Memorial{Status: StatusProcessing}).Callable() {
		t.Error("processing memorial should not be callable")
	}
}

func TestSeeds(t *testing.T) {
	t.Parallel()

	seeds := Seeds()
	if len(seeds) != 3 {
		t.Fatalf("len(Seeds()) = %d, want 3", len(seeds))
	}
	wantVoices := map[string]string{"1": "Kore", "2": "Fenrir", "3": "Puck"}
	for _, m := range seeds {
		if err := m.Validate(); err != nil {
			t.Errorf("seed %s invalid: %v", m.ID, err)
		}
		if m.Voice() != wantVoices[m.ID] {
			t.Errorf("seed %s voice = %q, want %q", m.ID, m.Voice(), wantVoices[m.ID])
		}
	}
	if seeds[2].Status != StatusSimulation {
		t.Errorf("DouDou status = %q, want simulation", seeds[2].Status)
	}

	// Callers may mutate the returned slice freely.
	seeds[0].Name = "changed"
	if Seeds()[0].Name != "Grandma (Li Xiulan)" {
		t.Error("Seeds() shares state between calls")
	}
}
