package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/memoria/internal/app"
	"github.com/MrWong99/memoria/internal/config"
	"github.com/MrWong99/memoria/internal/memorial"
	"github.com/MrWong99/memoria/internal/voice"
	"github.com/MrWong99/memoria/pkg/audio"
	"github.com/MrWong99/memoria/pkg/audio/mixer"
	"github.com/MrWong99/memoria/pkg/audio/stream"
)

var callFlags struct {
	memorial string
	in       string
	out      string
	rate     int
	encoding string
	stereo   bool
	linger   time.Duration
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Place a live voice call from raw PCM streams",
	Long: `Call streams microphone audio from --in (a raw PCM file or "-" for stdin)
to the live provider at real-time pace and writes the reply to --out as
16-bit little-endian mono PCM at 24 kHz. After the input ends the call stays
open for --linger so the last reply can finish.`,
	Args: cobra.NoArgs,
	RunE: runCall,
}

func init() {
	f := callCmd.Flags()
	f.StringVarP(&callFlags.memorial, "memorial", "m", "1", "memorial id or name")
	f.StringVar(&callFlags.in, "in", "-", `microphone input, raw PCM ("-" for stdin)`)
	f.StringVar(&callFlags.out, "out", "-", `reply output, s16le 24 kHz ("-" for stdout)`)
	f.IntVar(&callFlags.rate, "rate", audio.CaptureRate, "input sample rate")
	f.StringVar(&callFlags.encoding, "encoding", string(stream.S16LE), "input sample encoding (s16le|f32le)")
	f.BoolVar(&callFlags.stereo, "stereo", false, "input is interleaved stereo")
	f.DurationVar(&callFlags.linger, "linger", 10*time.Second, "how long to keep the call open after the input ends")
}

func runCall(cmd *cobra.Command, _ []string) error {
	enc := stream.Encoding(callFlags.encoding)
	if !enc.IsValid() {
		return fmt.Errorf("--encoding must be s16le or f32le, got %q", callFlags.encoding)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	if providers.Live == nil {
		return fmt.Errorf("no usable live provider %q, check providers.live", cfg.Providers.Live.Name)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pool, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	m, err := memorial.Find(ctx, store, callFlags.memorial)
	if err != nil {
		return err
	}
	if !m.Callable() {
		return fmt.Errorf("memorial %q is still processing", m.Name)
	}

	// ── Devices ───────────────────────────────────────────────────────────────
	readerOpts := []stream.ReaderOption{
		stream.WithEncoding(enc),
		stream.WithSampleRate(callFlags.rate),
		stream.WithRealtime(),
	}
	if callFlags.stereo {
		readerOpts = append(readerOpts, stream.WithStereo())
	}
	var src *stream.Reader
	if callFlags.in == "-" {
		src = stream.NewReader(cmd.InOrStdin(), readerOpts...)
	} else {
		src = stream.OpenFile(callFlags.in, readerOpts...)
	}
	mic := &eofDevice{InputDevice: src, eof: make(chan struct{})}

	out := cmd.OutOrStdout()
	if callFlags.out != "-" {
		f, err := os.Create(callFlags.out)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	sink := stream.NewSink(out)
	speaker := mixer.New(sink.WriteFrame,
		mixer.WithSampleRate(audio.PlaybackRate),
		mixer.WithFrameDuration(time.Duration(cfg.Call.FrameMS)*time.Millisecond),
	)

	// ── Session ───────────────────────────────────────────────────────────────
	sess := voice.New(providers.Live, mic, speaker, voice.Config{
		Voice:            m.Voice(),
		Instructions:     m.Context,
		ChunkSamples:     cfg.Call.ChunkSamples,
		CaptureQueue:     cfg.Call.CaptureQueue,
		MaxActiveSources: cfg.Call.MaxActiveSources,
	},
		voice.WithProviderName(providers.LiveName),
		voice.WithStateHandler(func(st voice.State, err error) {
			if err != nil {
				slog.Error("call state", "state", st.String(), "err", err)
				return
			}
			slog.Info("call state", "state", st.String())
		}),
	)

	slog.Info("calling", "memorial", m.Name, "voice", m.Voice(), "in", callFlags.in, "out", callFlags.out)
	if err := sess.Start(ctx); err != nil {
		return err
	}

	go hangUpAfterInput(ctx, sess, mic.eof, callFlags.linger)

	werr := sess.Wait()
	slog.Info("call ended", "state", sess.State().String(), "reply_bytes", sink.Written())
	if err := sink.Err(); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return werr
}

// hangUpAfterInput closes sess once the input has ended and the linger time
// has passed.
func hangUpAfterInput(ctx context.Context, sess *voice.Session, eof <-chan struct{}, linger time.Duration) {
	select {
	case <-eof:
	case <-sess.Done():
		return
	case <-ctx.Done():
		return
	}
	slog.Info("input ended, hanging up soon", "linger", linger)
	t := time.NewTimer(linger)
	defer t.Stop()
	select {
	case <-t.C:
		_ = sess.Close()
	case <-sess.Done():
	case <-ctx.Done():
	}
}

// eofDevice reports when the wrapped device is exhausted.
type eofDevice struct {
	audio.InputDevice
	once sync.Once
	eof  chan struct{}
}

func (d *eofDevice) Read(p []float32) (int, error) {
	n, err := d.InputDevice.Read(p)
	if errors.Is(err, io.EOF) {
		d.once.Do(func() { close(d.eof) })
	}
	return n, err
}
