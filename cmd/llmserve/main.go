package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	logLevel  string
	logFormat string
	log       zerolog.Logger
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "llmserve:", err)
		os.Exit(1)
	}
}

// newRootCmd constructs the command tree. Logs go to logOut.
func newRootCmd(logOut io.Writer) *cobra.Command {
	opts := &rootOptions{log: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "llmserve",
		Short:         "Batched LLM text generation over the KServe v2 protocol",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(logOut, opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.log = l
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr("LLMSERVE_LOG_LEVEL", "info"), "Log level: trace|debug|info|warn|error (defaults LLMSERVE_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", envOr("LLMSERVE_LOG_FORMAT", "console"), "Log format: console|json (defaults LLMSERVE_LOG_FORMAT)")

	configCmd := &cobra.Command{Use: "config", Short: "Model configuration utilities", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("config requires a subcommand: render")
	}}
	configCmd.AddCommand(newRenderCmd())

	root.AddCommand(newServeCmd(opts, logOut), newPrepareCmd(opts), newSmokeCmd(opts), configCmd)
	return root
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	switch format {
	case "json":
	case "console", "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q: want console or json", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
