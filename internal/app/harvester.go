package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samvad-hq/review-harvester/internal/config"
	"github.com/samvad-hq/review-harvester/internal/crawler"
	"github.com/samvad-hq/review-harvester/internal/logger"
	"github.com/samvad-hq/review-harvester/internal/metrics"
	"github.com/samvad-hq/review-harvester/internal/storage"
	"github.com/samvad-hq/review-harvester/internal/uploader"
	"github.com/samvad-hq/review-harvester/pkg/publishers"
	"github.com/samvad-hq/review-harvester/pkg/sheets"
	"github.com/samvad-hq/review-harvester/pkg/sources"
	"github.com/samvad-hq/review-harvester/pkg/warehouse"
)

// reportTimeout bounds publishing and metric pushes after the crawl, which still run when
// the run context was cancelled.
const reportTimeout = 30 * time.Second

// Harvester represents the review harvester runtime. It runs one pass over the enabled
// sources, then reports the outcome: summary table, run history, publishers and metrics.
type Harvester struct {
	cfg          *config.Config
	sources      []sources.Source
	crawlService *crawler.Service
	fanout       *publishers.Fanout
	store        storage.Store
	closeDest    func() error
	metrics      *metrics.Recorder
	out          io.Writer
	log          logger.Logger
}

// NewHarvester builds a harvester runtime from config files.
func NewHarvester(ctx context.Context, cfg *config.Config, log logger.Logger) (*Harvester, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	sourceReg, err := sources.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources registry: %w", err)
	}
	enabled := sourceReg.Enabled()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no enabled sources in %s", cfg.SourcesFile)
	}
	sourceIDs := make([]string, 0, len(enabled))
	for _, s := range enabled {
		sourceIDs = append(sourceIDs, s.ID)
	}
	log.InfoObj("sources registry loaded", "sources_meta", map[string]any{
		"count": len(sourceIDs),
		"ids":   sourceIDs,
	})

	session, err := sources.LoadCookieSession(cfg.CookiesFile)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	fetcher := sources.NewDispatcher(sources.DefaultFetcherRegistry(sources.DefaultHTTPClient(), session))

	dest, closeDest, err := buildDestination(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.InfoObj("destination initialized", "destination", map[string]any{
		"type": cfg.Destination,
		"key":  cfg.DestinationKey(),
	})
	up := uploader.New(dest, uploader.Options{
		BatchSize:    cfg.UploadBatchSize,
		MaxRetries:   cfg.UploadMaxRetries,
		HeaderPolicy: cfg.HeaderPolicy,
		Limiter:      uploader.NewWriteLimiter(cfg.UploadWritesPerMinute),
		Log:          log,
	})

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		_ = closeDest()
		return nil, err
	}

	storeType := "bbolt"
	if strings.TrimSpace(cfg.LockPath) == "" {
		storeType = "none"
	}
	store, err := storage.NewStore(storeType, cfg.LockPath, storage.Options{
		LockTimeout: cfg.LockTimeout,
		HistoryTTL:  cfg.RunHistoryTTL,
	})
	if err != nil {
		_ = fanout.Close()
		_ = closeDest()
		return nil, fmt.Errorf("init run lock: %w", err)
	}
	log.InfoObj("run lock initialized", "storage_config", map[string]any{
		"type":                 storeType,
		"path":                 cfg.LockPath,
		"lock_timeout_seconds": int(cfg.LockTimeout.Seconds()),
		"history_ttl_seconds":  int(cfg.RunHistoryTTL.Seconds()),
	})

	crawlService := crawler.NewService(fetcher, up, crawler.Options{
		Paginator: crawler.PaginatorOptions{
			RetryAttempts:   cfg.PageRetryAttempts,
			RetryDelay:      cfg.PageRetryDelay,
			StagnationLimit: cfg.StagnationLimit,
			MaxPages:        cfg.MaxPages,
		},
		Locker:  store,
		LockKey: cfg.DestinationKey(),
		Log:     log,
	})

	return &Harvester{
		cfg:          cfg,
		sources:      enabled,
		crawlService: crawlService,
		fanout:       fanout,
		store:        store,
		closeDest:    closeDest,
		metrics:      metrics.NewRecorder(),
		out:          os.Stdout,
		log:          log,
	}, nil
}

// buildDestination opens the configured review store: a spreadsheet or a BigQuery dataset.
func buildDestination(ctx context.Context, cfg *config.Config) (uploader.Destination, func() error, error) {
	if cfg.Destination == config.DestinationBigQuery {
		wh, err := warehouse.New(ctx, cfg.BigQueryProjectID, cfg.BigQueryDataset, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("init bigquery destination: %w", err)
		}
		return wh, wh.Close, nil
	}
	sheetsClient, err := sheets.New(ctx, cfg.SpreadsheetID, cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("init sheets client: %w", err)
	}
	return sheetsClient, func() error { return nil }, nil
}

// buildFanout loads the report publishers. Running without any is allowed.
func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	if strings.TrimSpace(cfg.PublishersFile) == "" {
		log.InfoObj("no publishers file configured; run report is only logged", "publishers_file", "")
		return publishers.NewFanout(nil, log), nil
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabledPublishers := publisherReg.Enabled()

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabledPublishers, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	publisherSummaries := make([]map[string]string, 0, len(enabledPublishers))
	for _, pubCfg := range enabledPublishers {
		publisherSummaries = append(publisherSummaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(publisherSummaries),
		"publishers": publisherSummaries,
	})
	return publishers.NewFanout(pubClients, log), nil
}

// Run performs a single crawl pass and reports it. The returned error joins every source
// failure; the summary is populated whenever the run got past the lock.
func (h *Harvester) Run(ctx context.Context) (crawler.RunSummary, error) {
	if h == nil || h.crawlService == nil {
		return crawler.RunSummary{}, fmt.Errorf("harvester is not initialized")
	}
	defer h.close()

	h.log.InfoObj("crawl started", "crawl_meta", map[string]any{
		"sources_count":    len(h.sources),
		"publishers_count": h.fanout.Size(),
	})

	summary, runErr := h.crawlService.Run(ctx, h.sources)
	if errors.Is(runErr, storage.ErrLocked) || len(summary.Sources) == 0 {
		return summary, runErr
	}

	RenderSummary(h.out, summary)
	h.report(ctx, summary)
	return summary, runErr
}

// report persists, publishes and exports the outcome of a run. Failures here are logged and
// never change the run result.
func (h *Harvester) report(ctx context.Context, summary crawler.RunSummary) {
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := h.recordRun(summary); err != nil {
		h.log.WarnObj("run history write failed", "error", err.Error())
	}

	if h.fanout.Size() > 0 {
		evt := publishers.NewEvent(h.cfg.AppName, summary)
		delivered, err := h.fanout.Publish(reportCtx, evt)
		h.log.InfoObj("run report published", "publish_meta", map[string]any{
			"delivered":  delivered,
			"publishers": h.fanout.Size(),
		})
		if err != nil {
			h.log.WarnObj("run report publish incomplete", "error", err.Error())
		}
	}

	if h.metrics != nil {
		h.metrics.ObserveRun(summary)
		if err := h.metrics.Push(reportCtx, h.cfg.PushgatewayURL, h.cfg.AppName); err != nil {
			h.log.WarnObj("metrics push failed", "error", err.Error())
		}
	}
}

func (h *Harvester) recordRun(summary crawler.RunSummary) error {
	if h.store == nil {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	return h.store.RecordRun(storage.RunRecord{
		Key:        h.cfg.DestinationKey(),
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		Status:     summary.Status(),
		Uploaded:   summary.Uploaded,
		Failed:     summary.Failed,
		Summary:    raw,
	})
}

// close releases the run lock store, publisher clients and destination, logging any errors.
func (h *Harvester) close() {
	if h.fanout != nil {
		if err := h.fanout.Close(); err != nil {
			h.log.ErrorObj("publisher close failed", "error", err.Error())
		}
	}
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			h.log.ErrorObj("storage close failed", "error", err.Error())
		}
	}
	if h.closeDest != nil {
		if err := h.closeDest(); err != nil {
			h.log.ErrorObj("destination close failed", "error", err.Error())
		}
	}
}
