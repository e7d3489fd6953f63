// Command memoria serves the memorial catalog, text chats and live voice
// calls, and offers terminal clients for chats and calls.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/memoria/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string

	// logLevel is shared by every handler so the config watcher can change
	// verbosity at runtime.
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:           "memoria",
	Short:         "Memoria voice server",
	Long:          `Memoria holds text and real-time voice conversations with memorial personas.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "memoria v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(memorialsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "memoria: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and installs the logger. A missing default
// config file is not an error: the built-in defaults and seed memorials are
// used instead.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	switch {
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		cfg = &config.Config{}
		cfg.ApplyDefaults()
		setupLogger(cfg.Server.LogLevel)
		slog.Info("no config file found, using defaults", "path", cfgFile)
		return cfg, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", cfgFile)
	case err != nil:
		return nil, err
	}
	setupLogger(cfg.Server.LogLevel)
	return cfg, nil
}

func setupLogger(level config.LogLevel) {
	logLevel.Set(level.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
