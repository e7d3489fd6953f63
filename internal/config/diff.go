package config

import (
	"cmp"
	"reflect"
	"slices"

	"github.com/MrWong99/memoria/internal/memorial"
)

// ConfigDiff describes what changed between two configs. Memorials and the
// log level are applied live; everything listed in RestartRequired only takes
// effect after a restart.
type ConfigDiff struct {
	MemorialsChanged bool
	MemorialChanges  []MemorialDiff

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed but cannot be
	// hot-reloaded ("server", "providers", "storage", "call", "chat").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.MemorialsChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// MemorialDiff describes what changed for a single memorial.
type MemorialDiff struct {
	ID             string
	Added          bool
	Removed        bool
	ContextChanged bool
	VoiceChanged   bool
	DisplayChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if !reflect.DeepEqual(old.Call, new.Call) {
		d.RestartRequired = append(d.RestartRequired, "call")
	}
	if old.Chat != new.Chat {
		d.RestartRequired = append(d.RestartRequired, "chat")
	}

	oldMems := indexMemorials(old.Catalog())
	newMems := indexMemorials(new.Catalog())

	for id, o := range oldMems {
		n, ok := newMems[id]
		if !ok {
			d.MemorialChanges = append(d.MemorialChanges, MemorialDiff{ID: id, Removed: true})
			continue
		}
		if md := diffMemorial(id, o, n); md.ContextChanged || md.VoiceChanged || md.DisplayChanged {
			d.MemorialChanges = append(d.MemorialChanges, md)
		}
	}
	for id := range newMems {
		if _, ok := oldMems[id]; !ok {
			d.MemorialChanges = append(d.MemorialChanges, MemorialDiff{ID: id, Added: true})
		}
	}
	slices.SortFunc(d.MemorialChanges, func(a, b MemorialDiff) int { return cmp.Compare(a.ID, b.ID) })
	d.MemorialsChanged = len(d.MemorialChanges) > 0

	return d
}

func indexMemorials(list []memorial.Memorial) map[string]*memorial.Memorial {
	out := make(map[string]*memorial.Memorial, len(list))
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out
}

// diffMemorial compares two memorials with the same ID.
func diffMemorial(id string, old, new *memorial.Memorial) MemorialDiff {
	md := MemorialDiff{ID: id}
	if old.Context != new.Context {
		md.ContextChanged = true
	}
	if old.Voice() != new.Voice() {
		md.VoiceChanged = true
	}
	if old.Name != new.Name || old.Relation != new.Relation || old.Years != new.Years ||
		old.Avatar != new.Avatar || old.Cover != new.Cover || old.Status != new.Status ||
		old.LastChat != new.LastChat {
		md.DisplayChanged = true
	}
	return md
}
