// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a scripted Channel. Use
// Channel to push inbound events and inspect the frames the pipeline sent.
//
// Example:
//
//	ch := mock.NewChannel()
//	p := &mock.Provider{Channel: ch}
//	ch.Push(live.Event{Type: live.EventOpen})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/memoria/pkg/audio"
	"github.com/MrWong99/memoria/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Channel is returned by Connect. If nil, Connect returns a fresh
	// [NewChannel].
	Channel *Channel

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Channel, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Channel == nil {
		p.Channel = NewChannel()
	}
	return p.Channel, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Channel is a scripted live.Channel.
type Channel struct {
	events chan live.Event

	mu         sync.Mutex
	sent       []audio.TransportFrame
	sendErr    error
	closeCalls int
	finished   bool
	notify     chan struct{}
}

var _ live.Channel = (*Channel)(nil)

// NewChannel creates a channel with a generous event buffer.
func NewChannel() *Channel {
	return &Channel{
		events: make(chan live.Event, 256),
		notify: make(chan struct{}, 1),
	}
}

// Push delivers ev to the consumer. Pushing a close or error event ends the
// stream. Events pushed after the stream ended are dropped.
func (c *Channel) Push(ev live.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.events <- ev
	if ev.Type == live.EventClose || ev.Type == live.EventError {
		c.finished = true
		close(c.events)
	}
}

// SetSendErr makes every later Send fail with err.
func (c *Channel) SetSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Send records frame.
func (c *Channel) Send(_ context.Context, frame audio.TransportFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCalls > 0 {
		return errors.New("mock: channel closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, frame)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Sent returns a copy of every frame sent so far.
func (c *Channel) Sent() []audio.TransportFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.TransportFrame, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentNotify is signalled after each successful Send.
func (c *Channel) SentNotify() <-chan struct{} { return c.notify }

// Events returns the scripted event stream.
func (c *Channel) Events() <-chan live.Event { return c.events }

// Close counts the call and ends the stream.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.finished {
		c.finished = true
		close(c.events)
	}
	return nil
}

// CloseCalls returns how many times Close was called.
func (c *Channel) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
