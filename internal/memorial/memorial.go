// Package memorial holds the catalog of memorial personas a user can talk to.
// A [Memorial] carries the display data shown in the catalog and the persona
// context that becomes the system instruction for both text chat and live
// voice calls.
//
// The [Store] interface abstracts persistence. [MemStore] keeps the catalog in
// memory (seeded from config or [Seeds]); [PostgresStore] keeps it in a single
// memorials table. [Find] resolves a user-supplied reference (an ID or a
// loosely typed name) to a catalog entry.
package memorial

import (
	"errors"
	"fmt"
	"time"
)

// DefaultVoice is the live voice used when a memorial does not name one.
const DefaultVoice = "Kore"

// Status describes how a memorial persona is backed.
type Status string

const (
	// StatusActive personas are built from real material about the person.
	StatusActive Status = "active"

	// StatusSimulation personas are purely synthetic (e.g. a pet).
	StatusSimulation Status = "simulation"

	// StatusProcessing personas are still being prepared and cannot be
	// called yet.
	StatusProcessing Status = "processing"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSimulation, StatusProcessing:
		return true
	}
	return false
}

// Memorial is a persona in the catalog.
type Memorial struct {
	// ID is the unique identifier used in URLs and on the command line.
	ID string `yaml:"id" json:"id"`

	// Name is the display name, e.g. "Grandma (Li Xiulan)".
	Name string `yaml:"name" json:"name"`

	// Relation is the person's relation to the user ("Grandmother", "Pet").
	Relation string `yaml:"relation" json:"relation"`

	// Years is the free-form life span shown in the catalog ("1948 - 2022").
	Years string `yaml:"years" json:"years"`

	// Avatar and Cover are image URLs for the catalog card.
	Avatar string `yaml:"avatar" json:"avatar"`
	Cover  string `yaml:"cover" json:"cover"`

	// Status defaults to [StatusActive] when empty.
	Status Status `yaml:"status" json:"status"`

	// LastChat is a human-readable hint of the last conversation ("2d ago").
	LastChat string `yaml:"last_chat" json:"lastChat"`

	// Context is the persona description handed to the model as its system
	// instruction.
	Context string `yaml:"context" json:"context"`

	// VoiceName is the live voice. Empty means [DefaultVoice].
	VoiceName string `yaml:"voice_name" json:"voiceName,omitempty"`

	CreatedAt time.Time `yaml:"-" json:"createdAt,omitzero"`
	UpdatedAt time.Time `yaml:"-" json:"updatedAt,omitzero"`
}

// Voice returns the configured voice or [DefaultVoice].
func (m *Memorial) Voice() string {
	if m.VoiceName == "" {
		return DefaultVoice
	}
	return m.VoiceName
}

// Callable reports whether a live call or chat may be opened with m.
func (m *Memorial) Callable() bool {
	return m.Status != StatusProcessing
}

// Validate checks the memorial for consistency. It returns a joined error
// describing every problem, or nil.
func (m *Memorial) Validate() error {
	var errs []error

	if m.ID == "" {
		errs = append(errs, errors.New("memorial: id must not be empty"))
	}
	if m.Name == "" {
		errs = append(errs, errors.New("memorial: name must not be empty"))
	}
	if m.Status != "" && !m.Status.Valid() {
		errs = append(errs, fmt.Errorf("memorial: status must be \"active\", \"simulation\" or \"processing\", got %q", m.Status))
	}
	if m.Context == "" && m.Status != StatusProcessing {
		errs = append(errs, fmt.Errorf("memorial %q: context must not be empty", m.ID))
	}

	return errors.Join(errs...)
}

// withDefaults returns a copy of m with empty optional fields filled in.
func withDefaults(m Memorial) Memorial {
	if m.Status == "" {
		m.Status = StatusActive
	}
	return m
}
