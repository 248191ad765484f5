package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"slowjams/internal/events"
	"slowjams/internal/logging"
	"slowjams/internal/notifications"
	"slowjams/internal/pipeline"
	"slowjams/internal/queue"
	"slowjams/internal/services/ffmpeg"
	"slowjams/internal/services/ytdlp"
	"slowjams/internal/stage"
	"slowjams/internal/stages/acquire"
	"slowjams/internal/stages/convert"
	"slowjams/internal/stages/edit"
	"slowjams/internal/stages/finalize"
	"slowjams/internal/stages/transform"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the pipeline daemon",
		Long:  "Runs the scheduling lanes in the foreground until interrupted. Only one daemon may run per database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(ctx)
		},
	}
}

func runDaemon(ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another slowjams daemon already holds %s", cfg.LockPath())
	}
	defer lock.Unlock()

	runID := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("slowjams-%s.log", runID))
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue database: %w", err)
	}
	defer store.Close()

	ffmpegClient := ffmpeg.NewCLI(ffmpeg.WithBinaries(cfg.Tools.FFmpeg, cfg.Tools.FFprobe))
	downloader := ytdlp.NewCLI(ytdlp.WithBinary(cfg.Tools.YtDlp))
	handlers := stage.HandlerSet{
		stage.KindAcquire:   acquire.New(downloader, logger),
		stage.KindConvert:   convert.New(ffmpegClient, logger),
		stage.KindEdit:      edit.New(ffmpegClient, logger),
		stage.KindTransform: transform.New(ffmpegClient, logger),
		stage.KindFinalize:  finalize.New(ffmpegClient, cfg.Paths.LibraryDir, logger),
	}

	orch, err := pipeline.New(cfg, store, handlers, events.NewHub(0), notifications.NewService(cfg), logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(signalCtx); err != nil {
		return err
	}
	logger.Info("slowjams daemon running",
		logging.String("database", store.Path()),
		logging.String("library", cfg.Paths.LibraryDir),
	)

	<-signalCtx.Done()
	logger.Info("slowjams daemon shutting down")
	orch.Stop()
	return nil
}
