// Command trisync keeps an issue tracker, a kanban board, per-project local
// issue stores, and per-project memory agents consistent with each other.
//
// All configuration comes from the environment; see internal/config. The
// serve command runs the long-lived service, sync runs one pass and exits,
// and status prints recent run history from the state database.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syncforge/trisync/internal/config"
)

var (
	verboseFlag bool
	jsonLogs    bool

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "trisync",
	Short:         "Multi-way sync between issue tracker, kanban board, local stores, and memory agents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs")
	rootCmd.AddCommand(serveCmd, syncCmd, statusCmd, versionCmd)
}

// newLogger builds the process logger. With LOG_FILE set, output goes
// through a size-rotated file; otherwise stderr.
func newLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg != nil && cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
	}

	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonLogs {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
