package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/memoria/pkg/provider/live"
)

// LiveFallback implements [live.Provider] with failover across realtime
// backends. Only dialling is covered: once a channel is connected its errors
// end the call, and the caller starts a new one.
type LiveFallback struct {
	group *FallbackGroup[live.Provider]
}

var _ live.Provider = (*LiveFallback)(nil)

// NewLiveFallback creates a [LiveFallback] with primary as the preferred
// backend.
func NewLiveFallback(primary live.Provider, primaryName string, cfg FallbackConfig) *LiveFallback {
	return &LiveFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another realtime backend.
func (f *LiveFallback) AddFallback(name string, provider live.Provider) {
	f.group.AddFallback(name, provider)
}

// Connect dials the first healthy backend. Backends that do not offer the
// requested voice are skipped.
func (f *LiveFallback) Connect(ctx context.Context, cfg live.Config) (live.Channel, error) {
	return ExecuteWithResult(ctx, f.group, func(p live.Provider) (live.Channel, error) {
		if cfg.Voice != "" && !p.Capabilities().HasVoice(cfg.Voice) {
			return nil, fmt.Errorf("%w: voice %q not offered", ErrSkipped, cfg.Voice)
		}
		return p.Connect(ctx, cfg)
	})
}

// Capabilities returns the primary's capabilities.
func (f *LiveFallback) Capabilities() live.Capabilities {
	return f.group.Primary().Capabilities()
}
