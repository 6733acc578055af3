package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/ost-export/builder"
	"github.com/dhcgn/ost-export/cmd"
	"github.com/dhcgn/ost-export/config"
	"github.com/dhcgn/ost-export/export"
	"github.com/dhcgn/ost-export/filter"
	"github.com/dhcgn/ost-export/manifest"
	"github.com/dhcgn/ost-export/progress"
	"github.com/dhcgn/ost-export/runner"
	"github.com/dhcgn/ost-export/source"
	_ "github.com/dhcgn/ost-export/source/mboxdir"
	"github.com/dhcgn/ost-export/stats"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ost-export <container> <output-dir> <mbox|eml>",
		Short: "Export a mailbox container into an mbox file per folder or one .eml file per message",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(3)(cmd, args); err != nil {
				return err
			}
			_, err := export.ParseFormat(args[2])
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting ost-export", "container", cfg.ContainerPath, "output", cfg.OutputDir, "format", cfg.Format, "workers", cfg.Workers)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	config.RegisterFlags(rootCmd)
	rootCmd.AddCommand(cmd.NewInspectCommand())
	return rootCmd
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	container, roots, err := source.Open(cfg.ContainerPath)
	if err != nil {
		logger.Error("cannot open container", "path", cfg.ContainerPath, "err", err)
		return fmt.Errorf("source.Open: %w", err)
	}
	defer container.Close()

	f, err := newFilter(cfg, logger)
	if err != nil {
		return err
	}

	var recorder manifest.Recorder
	if cfg.Manifest != "" {
		fr, err := manifest.NewFileRecorder(cfg.Manifest)
		if err != nil {
			return fmt.Errorf("manifest.NewFileRecorder: %w", err)
		}
		recorder = fr
	}

	sink, err := export.New(export.Options{
		Format:    cfg.Format,
		OutputDir: cfg.OutputDir,
		Recorder:  recorder,
		Logger:    logger,
	})
	if err != nil {
		if recorder != nil {
			_ = recorder.Close()
		}
		return fmt.Errorf("export.New: %w", err)
	}

	r := runner.New(ctx, cfg, logger)
	reporter := stats.NewReporter(r, logger)
	spinner := progress.New(progress.Enabled(cfg.Progress, cfg.LogLevel))
	progress.NewProgressReporter(r, spinner, logger)

	r.AddWalker(roots)
	r.AddBuilders(builder.New(builder.Options{Logger: logger}), f)
	r.AddWriter(sink)

	if err := r.Start(); err != nil {
		return err
	}
	summary := reporter.Summary()
	logger.Info("conversion completed", "output", cfg.OutputDir, "written", summary.Written, "skipped", summary.Skipped)
	return nil
}

// newFilter returns nil when no pattern is configured; a nil filter allows
// every message.
func newFilter(cfg config.Config, logger *slog.Logger) (*filter.Filter, error) {
	opts := filter.Options{
		IncludeFolder:  cfg.IncludeFolder,
		IncludeSubject: cfg.IncludeSubject,
		ExcludeFolder:  cfg.ExcludeFolder,
		ExcludeSubject: cfg.ExcludeSubject,
	}
	if !opts.Active() {
		return nil, nil
	}
	f, err := filter.New(opts)
	if err != nil {
		return nil, fmt.Errorf("filter.New: %w", err)
	}
	logger.Info("filtering messages", "include_folder", opts.IncludeFolder, "include_subject", opts.IncludeSubject,
		"exclude_folder", opts.ExcludeFolder, "exclude_subject", opts.ExcludeSubject)
	return f, nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("ost-export-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
