// Package voice runs a real-time voice conversation with a memorial persona.
//
// A [Session] owns every resource of one call: the output device, the
// microphone, the live provider channel, the downlink scheduler and the
// goroutines pumping audio between them. It moves through the states
// connecting → connected → disconnected | error, and every exit path (clean
// close, channel error, device failure, user hangup, context cancellation)
// funnels through a single teardown that runs exactly once:
//
//  1. stop every scheduled playback source
//  2. close the live channel
//  3. release the microphone
//  4. close the output device
//
// A session is single-use. To retry after a terminal state, construct a new
// one.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/memoria/internal/observe"
	"github.com/MrWong99/memoria/pkg/audio"
	"github.com/MrWong99/memoria/pkg/audio/capture"
	"github.com/MrWong99/memoria/pkg/audio/playback"
	"github.com/MrWong99/memoria/pkg/audio/visualizer"
	"github.com/MrWong99/memoria/pkg/provider/live"
)

var (
	// ErrClosed is returned by [Session.Start] when the session was already
	// torn down.
	ErrClosed = errors.New("voice: session closed")

	// ErrStarted is returned by a second call to [Session.Start].
	ErrStarted = errors.New("voice: session already started")
)

// Drop reasons reported on the dropped-chunk counter.
const (
	dropDecode  = "decode"
	dropBacklog = "backlog"
	dropDevice  = "device"
)

// Speaker is the output side of a call: a playback clock the scheduler can
// queue sources on, plus device acquisition and release. [mixer.Mixer]
// satisfies it.
type Speaker interface {
	playback.Device
	Open(ctx context.Context) error
	Close() error
}

// Config carries the per-call settings.
type Config struct {
	// Voice and Instructions are passed through to the live provider
	// untouched.
	Voice        string
	Instructions string

	// ChunkSamples is the uplink chunk size at 16 kHz. Zero uses
	// [capture.DefaultChunkSamples].
	ChunkSamples int

	// CaptureQueue bounds the chunks buffered between microphone and uplink.
	// Zero uses [capture.DefaultQueue].
	CaptureQueue int

	// MaxActiveSources bounds the downlink backlog. Zero means unbounded.
	MaxActiveSources int
}

// StateHandler observes state transitions. It is called synchronously and in
// order; it must not call [Session.Close] or [Session.Wait] itself.
type StateHandler func(state State, err error)

// Option configures a [Session].
type Option func(*Session)

// WithStateHandler registers fn for every state transition, including the
// initial connecting state.
func WithStateHandler(fn StateHandler) Option {
	return func(s *Session) { s.onState = fn }
}

// WithVisualizer polls sampler at hz while the session is live and passes the
// level to fn. The sampler must be fed from the speaker's output.
func WithVisualizer(sampler *visualizer.Sampler, hz int, fn func(level float64)) Option {
	return func(s *Session) {
		s.sampler = sampler
		s.visualHz = hz
		s.onLevel = fn
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithLogger sets the base logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithID sets the session ID. Defaults to a random UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithProviderName sets the provider label used on metrics. Defaults to
// "live".
func WithProviderName(name string) Option {
	return func(s *Session) { s.providerName = name }
}

// Session is one live voice call. All methods are safe for concurrent use.
type Session struct {
	id           string
	providerName string
	provider     live.Provider
	mic          audio.InputDevice
	speaker      Speaker
	cfg          Config
	sched        *playback.Scheduler

	onState  StateHandler
	sampler  *visualizer.Sampler
	visualHz int
	onLevel  func(float64)
	metrics  *observe.Metrics
	log      *slog.Logger

	// notifyMu serialises transitions so the handler sees them in order.
	notifyMu sync.Mutex

	mu       sync.Mutex
	state    State
	err      error
	started  bool
	closing  bool
	counted  bool
	cancel   context.CancelFunc
	ch       live.Channel
	tap      *capture.Tap
	openedAt time.Time

	g        errgroup.Group
	termOnce sync.Once
	done     chan struct{}
}

// New creates a session that will talk to provider, capture from mic and play
// through speaker. Nothing is acquired until [Session.Start].
func New(provider live.Provider, mic audio.InputDevice, speaker Speaker, cfg Config, opts ...Option) *Session {
	s := &Session{
		provider:     provider,
		mic:          mic,
		speaker:      speaker,
		cfg:          cfg,
		providerName: "live",
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("session_id", s.id)
	s.sched = playback.NewScheduler(speaker, playback.WithMaxActive(cfg.MaxActiveSources))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to [StateError], if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Active returns the number of downlink sources scheduled or playing.
func (s *Session) Active() int { return s.sched.Active() }

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires the output device and the microphone, then connects the
// live channel. It returns once the channel is dialled; the session becomes
// connected when the provider reports open. Any failure tears the session
// down into [StateError] and is returned.
//
// Cancelling ctx ends the session as disconnected.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closing:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.counted = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.transition(StateConnecting, nil)

	if err := s.speaker.Open(ctx); err != nil {
		err = fmt.Errorf("voice: open output device: %w", err)
		s.terminate(StateError, err)
		return err
	}
	if err := s.mic.Open(ctx); err != nil {
		err = fmt.Errorf("voice: open microphone: %w", err)
		s.terminate(StateError, err)
		return err
	}

	ch, err := s.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Hung up while dialling.
			s.terminate(StateDisconnected, nil)
			return ErrClosed
		}
		s.terminate(StateError, err)
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ch.Close()
		return ErrClosed
	}
	s.ch = ch
	s.openedAt = time.Now()
	// Registered under mu so teardown, and therefore Wait, cannot overtake.
	s.g.Go(func() error { return s.eventLoop(ctx, ch) })
	if s.sampler != nil && s.onLevel != nil {
		s.g.Go(func() error {
			s.sampler.Run(ctx, s.visualHz, s.onLevel)
			return nil
		})
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) connect(ctx context.Context) (live.Channel, error) {
	ctx, span := observe.StartSpan(ctx, "voice.connect",
		trace.WithAttributes(observe.Attr("session.id", s.id), observe.Attr("provider", s.providerName)))
	defer span.End()

	ch, err := s.provider.Connect(ctx, live.Config{
		Voice:        s.cfg.Voice,
		Instructions: s.cfg.Instructions,
	})
	if err != nil {
		observe.FailSpan(span, err)
		s.metrics.RecordProviderRequest(ctx, s.providerName, "live", "error")
		s.metrics.RecordProviderError(ctx, s.providerName, "live")
		return nil, fmt.Errorf("voice: connect: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "live", "ok")
	return ch, nil
}

// Close hangs up. It tears the session down as disconnected without waiting
// for background goroutines; use [Session.Wait] for that. Close is
// idempotent and a no-op after a terminal state was reached.
func (s *Session) Close() error {
	s.terminate(StateDisconnected, nil)
	return nil
}

// Wait blocks until the session has been torn down and its goroutines have
// exited, then returns the terminal error, if any.
func (s *Session) Wait() error {
	<-s.done
	_ = s.g.Wait()
	return s.Err()
}

// eventLoop consumes the live channel strictly in delivery order.
func (s *Session) eventLoop(ctx context.Context, ch live.Channel) error {
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			s.terminate(StateDisconnected, nil)
			return nil
		case ev, ok := <-events:
			if !ok {
				s.terminate(StateDisconnected, nil)
				return nil
			}
			switch ev.Type {
			case live.EventOpen:
				s.handleOpen(ctx, ch)
			case live.EventAudio:
				s.handleAudio(ctx, ev.Frame)
			case live.EventInterrupted:
				n := s.sched.Interrupt()
				s.metrics.RecordInterrupt(ctx, n)
				s.log.Debug("playback interrupted", "stopped", n)
			case live.EventClose:
				s.terminate(StateDisconnected, nil)
				return nil
			case live.EventError:
				err := ev.Err
				if err == nil {
					err = errors.New("unknown error")
				}
				s.terminate(StateError, fmt.Errorf("voice: channel: %w", err))
				return nil
			}
		}
	}
}

func (s *Session) handleOpen(ctx context.Context, ch live.Channel) {
	if !s.transition(StateConnected, nil) {
		return
	}
	s.mu.Lock()
	if s.closing || s.tap != nil {
		s.mu.Unlock()
		return
	}
	tap := capture.New(s.mic,
		capture.WithChunkSamples(s.cfg.ChunkSamples),
		capture.WithQueue(s.cfg.CaptureQueue),
	)
	s.tap = tap
	openedAt := s.openedAt
	s.mu.Unlock()

	s.metrics.LiveConnectDuration.Record(ctx, time.Since(openedAt).Seconds(),
		metric.WithAttributes(observe.Attr("provider", s.providerName)))
	s.log.Info("live session connected")

	chunks, err := tap.Start(ctx)
	if err != nil {
		s.terminate(StateError, fmt.Errorf("voice: start capture: %w", err))
		return
	}
	s.g.Go(func() error { return s.uplink(ctx, ch, tap, chunks) })
}

// uplink encodes captured chunks and sends them in capture order.
func (s *Session) uplink(ctx context.Context, ch live.Channel, tap *capture.Tap, chunks <-chan audio.AudioChunk) error {
	for chunk := range chunks {
		if err := ch.Send(ctx, audio.EncodeChunk(chunk)); err != nil {
			if ctx.Err() == nil {
				s.terminate(StateError, fmt.Errorf("voice: send: %w", err))
			}
			return nil
		}
		s.metrics.UplinkFrames.Add(ctx, 1)
	}
	if err := tap.Err(); err != nil && ctx.Err() == nil {
		s.terminate(StateError, fmt.Errorf("voice: microphone: %w", err))
		return nil
	}
	if ctx.Err() == nil {
		s.log.Debug("microphone input ended")
	}
	return nil
}

// handleAudio schedules one downlink chunk. Failures drop the chunk and
// never end the session.
func (s *Session) handleAudio(ctx context.Context, frame audio.TransportFrame) {
	src, err := s.sched.Schedule(frame)
	switch {
	case err == nil:
		s.metrics.DownlinkChunks.Add(ctx, 1)
		lead := audio.SamplesDuration(int(max(src.StartSample()-s.speaker.Clock(), 0)), src.SampleRate())
		s.metrics.ScheduleLead.Record(ctx, lead.Seconds())
	case errors.Is(err, playback.ErrClosed):
	case errors.Is(err, audio.ErrMalformedFrame):
		s.metrics.RecordDroppedChunk(ctx, dropDecode)
		s.log.Warn("dropping malformed audio chunk", "err", err)
	case errors.Is(err, playback.ErrBacklogFull):
		s.metrics.RecordDroppedChunk(ctx, dropBacklog)
		s.log.Warn("dropping audio chunk, playback backlog full", "active", s.sched.Active())
	default:
		s.metrics.RecordDroppedChunk(ctx, dropDevice)
		s.log.Warn("dropping audio chunk", "err", err)
	}
}

// transition moves to next and notifies the handler. It reports whether the
// transition happened.
func (s *Session) transition(next State, err error) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.state
	if next != StateConnecting || prev != StateConnecting {
		if !canTransition(prev, next) {
			s.mu.Unlock()
			return false
		}
	}
	s.state = next
	s.err = err
	s.mu.Unlock()

	if next != prev {
		s.log.Debug("session state changed", "from", prev.String(), "to", next.String())
	}
	if s.onState != nil {
		s.onState(next, err)
	}
	return true
}

// terminate is the single teardown path.
func (s *Session) terminate(state State, err error) {
	s.termOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		cancel, ch, tap, counted := s.cancel, s.ch, s.tap, s.counted
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.sched.Close()
		if ch != nil {
			if cerr := ch.Close(); cerr != nil {
				s.log.Debug("closing live channel", "err", cerr)
			}
		}
		if tap != nil {
			tap.Stop()
		}
		if cerr := s.mic.Close(); cerr != nil {
			s.log.Debug("closing microphone", "err", cerr)
		}
		if cerr := s.speaker.Close(); cerr != nil {
			s.log.Debug("closing output device", "err", cerr)
		}

		s.transition(state, err)

		ctx := context.Background()
		if counted {
			s.metrics.ActiveSessions.Add(ctx, -1)
		}
		s.metrics.RecordSessionEnded(ctx, state.String())
		if err != nil {
			s.log.Warn("live session failed", "err", err)
		} else {
			s.log.Info("live session ended", "state", state.String())
		}
		close(s.done)
	})
}
