// Command driftlinkd runs the sync coordination daemon: it watches a set of
// mapped local directory trees and replicates them onto a remote agent
// process over a pipe. Grounded on the teacher's cmd/client/main.go (cobra
// root command, tint+LogInterceptor logging stack, signal-driven shutdown).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/openmined/driftlink/internal/config"
	"github.com/openmined/driftlink/internal/engine"
	"github.com/openmined/driftlink/internal/utils"
	"github.com/openmined/driftlink/internal/version"
)

var (
	headerColor = color.New(color.FgHiCyan, color.Bold)
)

var rootCmd = &cobra.Command{
	Use:     "driftlinkd",
	Short:   "driftlink sync daemon",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true
		printHeader()

		e, err := engine.New(cfg, newCLIPresenter())
		if err != nil {
			return err
		}

		slog.Info("driftlinkd starting", "config", cfg.Path, "mappings", len(cfg.Mappings))
		defer slog.Info("driftlinkd stopped")
		return e.Run(cmd.Context())
	},
}

func init() {
	config.BindFlags(rootCmd)
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newStatusCmd())
}

func main() {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs a colorized stdout handler fanned out with a
// sequence-numbered file handler, mirroring the teacher's main().
func setupLogging() error {
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return fmt.Errorf("resolve log directory: %w", err)
	}
	logDir := filepath.Join(dir, "logs")
	if err := utils.EnsureDir(logDir); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	logFile := filepath.Join(logDir, "driftlinkd.log")
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
	return nil
}

func printHeader() {
	headerColor.Printf("driftlinkd %s\n", version.Short())
}
