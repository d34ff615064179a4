package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/newsbrief/internal/api"
	"github.com/jonesrussell/newsbrief/internal/config"
	"github.com/jonesrussell/newsbrief/internal/crawl"
	"github.com/jonesrussell/newsbrief/internal/database"
	"github.com/jonesrussell/newsbrief/internal/domain"
	"github.com/jonesrussell/newsbrief/internal/logger"
	"github.com/jonesrussell/newsbrief/internal/report"
	"github.com/jonesrussell/newsbrief/internal/scheduler"
	"github.com/jonesrussell/newsbrief/internal/sse"
	"github.com/jonesrussell/newsbrief/internal/stream"
	"github.com/jonesrussell/newsbrief/internal/taskengine"
)

const shutdownTimeout = 30 * time.Second

// serveCommand returns the serve command, which runs the full service:
// HTTP API, task engine, scheduler, and SSE streaming.
func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the newsbrief service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	taskRepo := database.NewTaskRepository(db)
	eventRepo := database.NewTaskEventRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	pendingRepo := database.NewPendingRepository(db)
	articleRepo := database.NewArticleRepository(db)
	reportRepo := database.NewReportRepository(db)

	// Redis is optional: without it, live tails fall back to database
	// polling and the event mirror is disabled.
	var mirror taskengine.EventMirror
	var tailer stream.Tailer
	if cfg.Redis.Addr != "" {
		redisClient, redisErr := stream.NewRedisClient(ctx, cfg.Redis)
		if redisErr != nil {
			log.Warn("redis unavailable, falling back to database polling", logger.Error(redisErr))
		} else {
			defer redisClient.Close()
			writer := stream.NewRedisStreamWriter(redisClient)
			mirror = writer
			tailer = writer
		}
	}

	broker := sse.NewBroker(log)
	if err := broker.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = broker.Stop() }()

	engine := taskengine.New(taskRepo, eventRepo, broker, mirror, log)

	fetcher := crawl.NewHTTPFetcher(cfg.Crawler.FetchTimeout, cfg.Crawler.UserAgent)
	robots := crawl.NewRobotsProbe(cfg.Crawler.FetchTimeout, cfg.Crawler.UserAgent)
	importer := crawl.NewSitemapImporter(cfg.Crawler.FetchTimeout, cfg.Crawler.SitemapMaxAge, pendingRepo, sourceRepo, log)
	runner := crawl.NewRunner(sourceRepo, pendingRepo, articleRepo, fetcher, robots, importer, log, cfg.Crawler.Config)

	generator := report.NewAnthropicGenerator(cfg.Report)
	pipeline := report.NewPipeline(reportRepo, articleRepo, generator, log)

	engine.Register(domain.TaskTypeCrawlPending, crawl.NewPendingHandler(runner))
	engine.Register(domain.TaskTypeRetryFailed, crawl.NewRetryHandler(runner))
	engine.Register(domain.TaskTypeReportGenerate, pipeline)

	gateway := stream.NewGateway(eventRepo, tailer, log)

	sched := scheduler.New(ctx, engine, log, cfg.Scheduler)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	server := api.NewServer(
		api.ServerConfig{
			Address:      cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		api.NewTasksHandler(engine),
		api.NewStreamHandler(engine, gateway, broker, log),
		api.NewSourcesHandler(sourceRepo, runner, engine),
		api.NewReportsHandler(reportRepo, pipeline, engine),
		log,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", logger.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", logger.Error(err))
	}

	// Let running tasks finish before tearing down their dependencies.
	engine.Wait()

	return nil
}
