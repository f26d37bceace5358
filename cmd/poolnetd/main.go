package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"poolnet/internal/buildinfo"
	"poolnet/internal/daemon"
	"poolnet/internal/logging"
	"poolnet/internal/ui"
)

func main() {
	if err := logging.Configure(logging.LevelInfo, logging.FormatText); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var logFormat string
	var debug bool
	var noColor bool
	var console bool

	cmd := &cobra.Command{
		Use:           "poolnetd",
		Short:         "Pool network coordinator daemon",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureColor(!noColor)
			return logging.Configure(logLevel(debug), logFormat)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := daemon.Options{
				ConfigPath: configPath,
				LogFormat:  logFormat,
				Output:     cmd.OutOrStdout(),
			}
			if debug {
				opts.LogLevel = logging.LevelDebug
			}
			if console {
				opts.Console = cmd.InOrStdin()
			}
			return daemon.Run(ctx, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default $XDG_CONFIG_HOME/poolnet/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().BoolVar(&console, "console", true, "Read operator commands from stdin")

	cmd.AddCommand(summaryCmd(&configPath), poolsCmd(&configPath), sharesCmd(&configPath), initCmd(&configPath))
	return cmd
}

func logLevel(debug bool) string {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}
