package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/memoria/internal/app"
	"github.com/MrWong99/memoria/internal/chat"
	"github.com/MrWong99/memoria/internal/config"
)

var chatMemorial string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a memorial in the terminal",
	Long: `Chat reads one message per line from stdin and streams each reply.
Type /history to print the transcript and /quit (or EOF) to leave.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMemorial, "memorial", "m", "1", "memorial id or name")
}

func runChat(cmd *cobra.Command, _ []string) error {
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
	if providers.Chat == nil {
		return fmt.Errorf("no usable chat provider %q, check providers.chat", cfg.Providers.Chat.Name)
	}
	providers.Live = nil

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		return err
	}
	defer application.Shutdown(context.Background())

	sess, err := application.Chats().Open(ctx, chatMemorial)
	if err != nil {
		return err
	}
	defer application.Chats().Close(sess.ID())

	return chatLoop(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatLoop runs the read-send-print cycle until EOF, /quit or ctx ends.
func chatLoop(ctx context.Context, sess *chat.Session, in io.Reader, out io.Writer) error {
	name := sess.Memorial().Name
	for _, e := range sess.Transcript() {
		fmt.Fprintf(out, "%s> %s\n", name, e.Text)
	}

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			for _, e := range sess.Transcript() {
				fmt.Fprintf(out, "[%s] %s: %s\n", e.Time.Format("15:04:05"), e.Role, e.Text)
			}
			continue
		}

		fmt.Fprintf(out, "%s> ", name)
		streamed := false
		entry, err := sess.Send(ctx, line, func(delta string) {
			streamed = true
			fmt.Fprint(out, delta)
		})
		switch {
		case errors.Is(err, chat.ErrUnavailable):
			if streamed {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, entry.Text)
		case err != nil:
			fmt.Fprintln(out)
			if ctx.Err() != nil {
				return nil
			}
			return err
		default:
			fmt.Fprintln(out)
		}
	}
}
