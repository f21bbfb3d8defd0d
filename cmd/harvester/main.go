package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/review-harvester/internal/app"
	"github.com/samvad-hq/review-harvester/internal/config"
	"github.com/samvad-hq/review-harvester/internal/crawler"
	"github.com/samvad-hq/review-harvester/internal/logger"
	"github.com/samvad-hq/review-harvester/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "harvester failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("harvester starting", "config", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	harvester, err := app.NewHarvester(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			logger.WarnObj("another harvester run is active; skipping", "error", err.Error())
		} else {
			logger.ErrorObj("failed to initialize harvester", "error", err.Error())
		}
		return err
	}

	summary, err := harvester.Run(ctx)
	if err == nil {
		return nil
	}
	// Partial runs keep the exit code clean; the report already carries the failures.
	if len(summary.Sources) > 0 && summary.Status() == crawler.StatusPartial {
		logger.WarnObj("harvester run finished with failures", "error", err.Error())
		return nil
	}
	return fmt.Errorf("harvester run: %w", err)
}
