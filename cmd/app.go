package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/aireview"
	"github.com/localpages/dirworker/internal/clock/system"
	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/crawler"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/discovery"
	"github.com/localpages/dirworker/internal/extract"
	iduuid "github.com/localpages/dirworker/internal/id/uuid"
	"github.com/localpages/dirworker/internal/logging"
	"github.com/localpages/dirworker/internal/queue"
	"github.com/localpages/dirworker/internal/search"
	memstore "github.com/localpages/dirworker/internal/storage/memory"
	"github.com/localpages/dirworker/internal/storage/postgres"
	"github.com/localpages/dirworker/internal/sweeps"
	"github.com/localpages/dirworker/internal/worker"
)

// app bundles the long-lived services every command needs: configuration,
// logging, the store, and the job queue.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	clock  directory.Clock
	store  directory.Store
	queue  queue.Provider
}

// newApp loads configuration and connects the backing services. With db.dsn
// unset everything runs in-memory, which is only useful for local poking.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	clk := system.Clock{}
	ids := iduuid.Generator{}

	var (
		store directory.Store
		q     queue.Provider
	)
	if cfg.DB.DSN != "" {
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		}, clk, ids)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrate store schema: %w", err)
		}
		pq, err := queue.NewPostgres(ctx, cfg.DB.DSN)
		if err != nil {
			pg.Close()
			return nil, fmt.Errorf("connect queue: %w", err)
		}
		if err := pq.EnsureSchema(ctx); err != nil {
			pq.Close()
			pg.Close()
			return nil, fmt.Errorf("migrate queue schema: %w", err)
		}
		store, q = pg, pq
	} else {
		logger.Warn("db.dsn is not set, using in-memory storage; all state is lost on exit")
		store = memstore.New(clk, ids)
		q = queue.NewMemory()
	}

	return &app{cfg: cfg, logger: logger, clock: clk, store: store, queue: q}, nil
}

func (a *app) Close() {
	a.queue.Close()
	a.store.Close()
	_ = a.logger.Sync()
}

// buildPipeline constructs the job implementations behind the worker's
// handler table. The returned cleanup tears down the headless browser.
func (a *app) buildPipeline() (worker.Pipeline, func(), error) {
	renderer, err := crawler.NewChromedp(crawler.RendererConfig{
		UserAgent:   a.cfg.Crawler.UserAgent,
		NavTimeout:  a.cfg.Crawler.NavTimeout(),
		MaxParallel: a.cfg.Worker.Concurrency,
	})
	if err != nil {
		return worker.Pipeline{}, nil, fmt.Errorf("init renderer: %w", err)
	}
	robots := crawler.NewRobots(a.cfg.Crawler.UserAgent, a.cfg.Crawler.RobotsTimeout())

	var provider search.Provider
	if a.cfg.Discovery.Provider == "brave" {
		provider, err = search.NewBrave(a.cfg.Discovery.BraveAPIKey)
		if err != nil {
			renderer.Close()
			return worker.Pipeline{}, nil, fmt.Errorf("init search provider: %w", err)
		}
	}

	var reviewer aireview.Reviewer
	if a.cfg.AI.Enabled {
		reviewer = aireview.NewAnthropic(a.cfg.AI.APIKey, a.cfg.AI.Model)
	}

	p := worker.Pipeline{
		Wave:      discovery.NewWave(a.store, a.queue, a.clock, a.logger, a.cfg.Discovery),
		CityBatch: discovery.NewCityBatch(a.store, provider, a.queue, a.clock, a.logger, a.cfg.Discovery),
		Crawl:     crawler.NewJob(a.store, renderer, robots, a.queue, a.clock, a.logger, a.cfg.Crawler.UserAgent),
		Extract:   extract.NewJob(a.store, a.queue, a.logger, a.cfg.AI.Enabled),
		AIReview:  aireview.NewJob(a.store, reviewer, a.logger, a.cfg.AI),
		Refresh:   sweeps.NewRefresh(a.store, a.queue, a.clock, a.logger, a.cfg.Sweeps),
		Quality:   sweeps.NewQuality(a.store, a.clock, a.logger, a.cfg.Sweeps),
		Summary:   sweeps.NewSummary(a.store, a.logger, a.cfg.Sweeps),
		Scrub:     sweeps.NewScrub(a.store, a.clock, a.logger, a.cfg.Sweeps),
	}
	return p, renderer.Close, nil
}
