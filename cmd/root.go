package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fapiaokit/invoice-collector/config"
	"github.com/fapiaokit/invoice-collector/filer"
	"github.com/fapiaokit/invoice-collector/mailbox"
	"github.com/fapiaokit/invoice-collector/mboxfile"
	"github.com/fapiaokit/invoice-collector/model"
	"github.com/fapiaokit/invoice-collector/pipeline"
	"github.com/fapiaokit/invoice-collector/progress"
	"github.com/fapiaokit/invoice-collector/state"
	"github.com/fapiaokit/invoice-collector/webfetch"
)

var rootCmd = &cobra.Command{
	Use:   "invoice-collector",
	Short: "Collect invoice PDFs/OFDs from a mailbox and file them by month",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()

		slog.SetDefault(logger)
		logger.Info("starting invoice-collector",
			"baseDir", cfg.Output.BaseDir, "month", cfg.Month, "dryRun", cfg.DryRun)

		return run(cmd.Context(), cfg, logger)
	},
}

func init() {
	config.RegisterFlags(rootCmd)
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ledger, err := state.Open(cfg.StatePath, logger)
	if err != nil {
		return fmt.Errorf("open state ledger: %w", err)
	}

	var source pipeline.Source
	if cfg.MboxPath != "" {
		src, err := mboxfile.NewSource(cfg.MboxPath, logger)
		if err != nil {
			return fmt.Errorf("open mbox: %w", err)
		}
		source = src
	} else {
		client, err := mailbox.NewClient(mailbox.Options{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		}, logger)
		if err != nil {
			return err
		}
		if err := client.Connect(); err != nil {
			return err
		}
		defer client.Disconnect()
		source = client
	}

	fetcher := webfetch.New(webfetch.Options{
		Headless: cfg.Browser.IsHeadless(),
		Timeout:  time.Duration(cfg.Browser.TimeoutMS) * time.Millisecond,
	}, logger)

	since, err := sinceTime(cfg)
	if err != nil {
		return err
	}
	logger.Info("collecting", "since", since.Format("2006-01-02"))

	spinner := progress.New(cfg.LogLevel)
	summary, err := pipeline.Run(ctx, pipeline.Deps{
		Source:  source,
		Fetcher: fetcher,
		Ledger:  ledger,
		Filer:   filer.New(cfg.Output.BaseDir, cfg.DryRun),
		Logger:  logger,
	}, pipeline.Options{
		Since:    since,
		Keywords: cfg.Filters.SubjectKeywords,
		DryRun:   cfg.DryRun,
		Progress: func(desc model.Descriptor) { spinner.Update(desc) },
	})
	spinner.Stop()
	if err != nil {
		return err
	}

	logger.Info("run finished", summary.LogAttrs()...)
	progress.RenderSummary(summary, cfg.Output.BaseDir, cfg.DryRun)

	if !cfg.DryRun {
		if dir, derr := config.DefaultDir(); derr == nil {
			if path, werr := summary.WriteErrorLog(dir); werr != nil {
				logger.Warn("write error log failed", "err", werr)
			} else if path != "" {
				logger.Info("error log written", "path", path)
			}
		}
	}

	return nil
}

// sinceTime maps --month to the first day of that month, otherwise the
// configured lookback window.
func sinceTime(cfg config.Config) (time.Time, error) {
	if cfg.Month != "" {
		t, err := time.Parse("2006-01", cfg.Month)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --month %q: %w", cfg.Month, err)
		}
		return t, nil
	}
	return time.Now().AddDate(0, 0, -cfg.Filters.LookbackDays), nil
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

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("invoice-collector-%s.log", time.Now().Format("20060102T150405")))
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
