// Package app wires the pipeline together: sources and their runners on
// one side, the embedding scheduler on the other, the staging store between
// them, and the monitoring surface plus NSQ control channel around it all.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"

	"corpusflow/internal/adapter/gemini"
	"corpusflow/internal/adapter/openai"
	wsink "corpusflow/internal/adapter/weaviate"
	"corpusflow/internal/chunk"
	"corpusflow/internal/config"
	"corpusflow/internal/embedsched"
	"corpusflow/internal/events"
	"corpusflow/internal/hash"
	"corpusflow/internal/middleware"
	"corpusflow/internal/monitor"
	"corpusflow/internal/runner"
	"corpusflow/internal/schedule"
	"corpusflow/internal/sources/fsdocs"
	"corpusflow/internal/sources/rss"
	"corpusflow/internal/staging"
)

type App struct {
	cfg  *config.Config
	deps *Dependencies

	handler         http.Handler
	fleet           *runner.Fleet
	embedScheduler  *embedsched.Scheduler
	controlConsumer *nsq.Consumer
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies) (*App, error) {
	stagingStore := staging.NewPostgresStore(deps.DB, cfg.MaxEmbedRetries)

	var pub events.Publisher = events.NoopPublisher{}
	if cfg.EnableEvents {
		pub = deps.NSQProducer
	}

	// Embedding provider
	var embedder embedsched.Embedder
	switch cfg.EmbedProvider {
	case "openai":
		e, err := openai.NewEmbedder(cfg.EmbedServiceURL, cfg.EmbedServiceToken, cfg.EmbedModel)
		if err != nil {
			return nil, fmt.Errorf("openai embedder error: %w", err)
		}
		embedder = e
	default:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, fmt.Errorf("gemini embedder error: %w", err)
		}
		embedder = e
	}

	// One sink per target collection, resolved once here.
	docSink := wsink.NewSink(deps.Weaviate, cfg.FSDocsCollection)
	feedSink := wsink.NewSink(deps.Weaviate, cfg.RSSCollection)
	sinks := map[string]embedsched.Sink{
		cfg.FSDocsCollection: docSink,
		cfg.RSSCollection:    feedSink,
	}

	// Sources
	chunkOpts := chunk.Options{MaxSize: cfg.ChunkMaxSize, Overlap: cfg.ChunkOverlap}
	resync := schedule.IntervalResync(time.Duration(cfg.ResyncMinutes) * time.Minute)

	var sources []runner.Source
	if cfg.FSDocsRoot != "" {
		sources = append(sources, fsdocs.New("fsdocs", cfg.FSDocsRoot, cfg.FSDocsCollection, resync))
	}
	if len(cfg.RSSFeeds) > 0 {
		backfill := schedule.BackfillStrategy{Days: cfg.BackfillDays}
		sources = append(sources, rss.New("rss", cfg.RSSFeeds, cfg.RSSCollection, resync, backfill))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured: set FSDOCS_ROOT or RSS_FEEDS")
	}

	runners := make([]*runner.Runner, 0, len(sources))
	for _, src := range sources {
		sched := schedule.New(src.Resync(), src.Backfill(), cfg.RunOnce)
		runners = append(runners, runner.New(src, sched, deps.DedupStore, stagingStore, deps.MetaStore, pub, chunkOpts, hash.Content))
	}
	fleet := runner.NewFleet(runners...)

	embedScheduler, err := embedsched.New(
		stagingStore,
		embedder,
		sinks,
		pub,
		time.Duration(cfg.EmbedPollIntervalSecs)*time.Second,
		cfg.EmbedBatchSize,
		cfg.MaxConcurrentEmbeddings,
		cfg.MaxEmbedRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("embedding scheduler error: %w", err)
	}

	// Monitoring surface
	monitorHandler := monitor.NewHandler(stagingStore, deps.DedupStore, deps.MetaStore, docSink, feedSink)

	// Control channel
	var controlConsumer *nsq.Consumer
	if cfg.EnableEvents {
		nsqCfg := nsq.NewConfig()
		controlConsumer, err = nsq.NewConsumer(config.TopicControl, "pipeline", nsqCfg)
		if err != nil {
			return nil, fmt.Errorf("control consumer error: %w", err)
		}
		controlConsumer.AddHandler(events.NewControlConsumer(fleet))
	}

	return &App{
		cfg:             cfg,
		deps:            deps,
		handler:         middleware.CorrelationID(monitorHandler.Routes()),
		fleet:           fleet,
		embedScheduler:  embedScheduler,
		controlConsumer: controlConsumer,
	}, nil
}

// Run starts every loop and blocks until ctx is cancelled, or until the
// pipeline has drained in run-once mode.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.handler,
	}

	go func() {
		slog.Info("monitoring server starting", "port", a.cfg.ServerPort)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("monitoring server failed", "error", err)
		}
	}()

	if a.controlConsumer != nil {
		if err := a.controlConsumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
			slog.Warn("failed to connect control consumer, continuing without control channel", "error", err)
		}
	}

	a.fleet.Start(ctx)

	if a.cfg.RunOnce {
		err := a.runOnce(ctx)
		a.shutdown(srv)
		return err
	}

	embedDone := make(chan struct{})
	go func() {
		defer close(embedDone)
		a.embedScheduler.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("shutting down pipeline...")

	a.fleet.Wait()
	<-embedDone
	a.shutdown(srv)
	return nil
}

// runOnce waits for every one-shot source to finish, then drains the
// staging backlog until nothing is claimable.
func (a *App) runOnce(ctx context.Context) error {
	a.fleet.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		if a.embedScheduler.Drain(ctx) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (a *App) shutdown(srv *http.Server) {
	if a.controlConsumer != nil {
		a.controlConsumer.Stop()
		<-a.controlConsumer.StopChan
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	a.embedScheduler.Close()
}
