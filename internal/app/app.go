package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gokatarajesh/geotap/internal/config"
	"github.com/gokatarajesh/geotap/internal/daykey"
	"github.com/gokatarajesh/geotap/internal/db/queries"
	"github.com/gokatarajesh/geotap/internal/db/repository"
	"github.com/gokatarajesh/geotap/internal/geometry"
	"github.com/gokatarajesh/geotap/internal/leaderboard"
	"github.com/gokatarajesh/geotap/internal/logging"
	"github.com/gokatarajesh/geotap/internal/metrics"
	"github.com/gokatarajesh/geotap/internal/question"
	"github.com/gokatarajesh/geotap/internal/remote"
	"github.com/gokatarajesh/geotap/internal/round"
	"github.com/gokatarajesh/geotap/internal/round/scoring"
	"github.com/gokatarajesh/geotap/internal/server"
	"github.com/gokatarajesh/geotap/internal/stats"
	"github.com/gokatarajesh/geotap/internal/store"
	"github.com/gokatarajesh/geotap/internal/store/memory"
	"github.com/gokatarajesh/geotap/internal/store/redisstore"
	ws "github.com/gokatarajesh/geotap/pkg/http/ws"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server)
// and the background workers of the round engine.
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	rounds         *round.Service
	remote         *remote.Multi
	lbBroadcaster  *leaderboard.Broadcaster
	snapshotWorker *leaderboard.SnapshotWorker
	prewarm        *question.PrewarmWorker
	scheduler      *RolloverScheduler
}

// New bootstraps config-driven dependencies and wires every service.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)
	logger.Info().Str("store", cfg.Store.Backend).Msg("starting application bootstrap")

	clock := clockwork.NewRealClock()
	days, err := daykey.NewClock(clock, cfg.DayBoundary.CutoffHour, cfg.DayBoundary.Timezone)
	if err != nil {
		return nil, fmt.Errorf("day clock: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	q := queries.New(pool)

	base, err := newStore(cfg.Store, redisClient, q)
	if err != nil {
		return nil, err
	}
	directory := stats.NewDirectory(base, days, logger, stats.Options{OnFailure: m.PersistFailure})

	catalog, err := question.LoadFile(cfg.Catalog.QuestionsPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Catalog.QuestionsPath).Msg("catalog unavailable, using bundled fallback")
		catalog = question.Fallback()
	}

	ladder, err := round.LoadLadder(cfg.Catalog.ChallengePath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.Catalog.ChallengePath).Msg("challenge ladder unavailable, challenge mode disabled")
		ladder = &round.Ladder{Version: 1}
	}

	geo := loadGeometry(cfg.Geometry, logger)
	engine := scoring.NewEngine(scoring.ScoringConfig{MaxDistanceKM: cfg.Round.MaxDistanceKM}, geo, logger)

	questionSvc := question.NewService(
		catalog,
		question.NewCache(redisClient, cfg.Round.SetCacheTTL),
		logger,
		question.ServiceOptions{
			DailyCount:    cfg.Round.DailyQuestionCount,
			PracticeCount: cfg.Round.PracticeQuestionCount,
			Now:           clock.Now,
		},
	)
	prewarm := question.NewPrewarmWorker(questionSvc, logger, 0)
	scheduler, err := NewRolloverScheduler(days, clock, prewarm, logger)
	if err != nil {
		return nil, err
	}

	leaderboardSvc := leaderboard.NewService(redisClient, logger, leaderboard.ServiceOptions{
		EntryTTL:         cfg.Leaderboard.EntryTTL,
		SnapshotTopLimit: cfg.Leaderboard.SnapshotTopN,
		Async:            true,
	})
	snapshots := repository.NewSnapshotRepository(q)
	results := repository.NewResultsRepository(q)

	publishers := []remote.Publisher{remote.NewLeaderboardPublisher(leaderboardSvc)}
	var history round.HistorySource
	if cfg.Remote.Enabled {
		pg := remote.NewPGPublisher(results)
		publishers = append(publishers, pg)
		history = pg
	}
	syncer := remote.NewMulti(publishers, m, cfg.Remote.Timeout, logger)

	wsHub := ws.NewHub(logger)
	relay := round.NewEventRelay(wsHub, ladder, logger)
	roundSvc := round.NewService(
		questionSvc,
		ladder,
		engine,
		directory,
		syncer,
		m,
		relay.Publish,
		round.ServiceOptions{
			QuestionSeconds: int(cfg.Round.QuestionDuration.Seconds()),
			SessionTTL:      cfg.Round.SessionTTL,
			Driver: round.DriverConfig{
				RevealDelay:     cfg.Round.RevealDelay,
				FailRevealDelay: cfg.Round.FailRevealDelay,
			},
			Clock: clock,
		},
		logger,
	)

	roundWS := round.NewHandler(roundSvc, wsHub, logger)
	roundHTTP := round.NewHTTPHandlers(roundSvc, history, logger)
	lbHTTP := leaderboard.NewHTTPHandler(leaderboardSvc, snapshots, directory, logger)

	var snapshotWorker *leaderboard.SnapshotWorker
	if interval := cfg.Leaderboard.SnapshotInterval; interval > 0 {
		snapshotWorker = leaderboard.NewSnapshotWorker(leaderboardSvc, snapshots, days, clock, interval, logger)
	}

	apiServer := server.NewHTTPServer(cfg, logger,
		server.Deps{Pool: pool, Redis: redisClient, Registry: registry},
		roundWS.HandleWebSocket,
		roundHTTP.Register,
		lbHTTP.Register,
	)

	return &Application{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		http:           apiServer,
		rounds:         roundSvc,
		remote:         syncer,
		lbBroadcaster:  leaderboard.NewBroadcaster(redisClient, wsHub, leaderboardSvc.Channel(), logger),
		snapshotWorker: snapshotWorker,
		prewarm:        prewarm,
		scheduler:      scheduler,
	}, nil
}

func newStore(cfg config.Store, rdb *redis.Client, q *queries.Queries) (store.Store, error) {
	var s store.Store
	switch cfg.Backend {
	case config.StoreMemory:
		s = memory.New()
	case config.StoreRedis:
		s = redisstore.New(rdb)
	case config.StorePostgres:
		s = repository.NewKVRepository(q)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	return store.WithPrefix(s, cfg.Prefix), nil
}

// loadGeometry returns nil when no dataset loads, which makes every polygon
// question score against its representative point.
func loadGeometry(cfg config.Geometry, logger zerolog.Logger) scoring.Geometry {
	ix := geometry.NewIndex()
	loaded := 0
	for _, ds := range []struct {
		dataset question.Dataset
		path    string
		props   []string
	}{
		{question.DatasetCountries, cfg.CountriesPath, geometry.CountryCodeProps},
		{question.DatasetStates, cfg.StatesPath, geometry.StateCodeProps},
	} {
		if ds.path == "" {
			continue
		}
		n, err := ix.LoadFile(ds.dataset, ds.path, ds.props)
		if err != nil {
			logger.Warn().Err(err).Str("dataset", string(ds.dataset)).Msg("geometry dataset unavailable")
			continue
		}
		logger.Info().Str("dataset", string(ds.dataset)).Int("regions", n).Msg("geometry dataset loaded")
		loaded += n
	}
	if loaded == 0 {
		return nil
	}
	return ix
}

// Run starts the HTTP server and background workers, then waits for a
// termination signal or the first fatal error.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	a.runWorker(g, gctx, "leaderboard broadcaster", a.lbBroadcaster.Run)
	a.runWorker(g, gctx, "question prewarm", a.prewarm.Run)
	if a.snapshotWorker != nil {
		a.runWorker(g, gctx, "leaderboard snapshot worker", a.snapshotWorker.Run)
	}
	a.scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("http shutdown error")
		}
		return nil
	})

	err := g.Wait()

	if serr := a.scheduler.Shutdown(); serr != nil {
		a.logger.Error().Err(serr).Msg("scheduler shutdown error")
	}
	a.rounds.Shutdown()
	a.remote.Wait()

	a.pool.Close()
	if cerr := a.redis.Close(); cerr != nil {
		a.logger.Error().Err(cerr).Msg("redis shutdown error")
	}

	a.logger.Info().Msg("shutdown complete")
	return err
}

// runWorker runs fn until the group context ends. A worker stopping on
// cancellation is not an error; any other failure is logged but does not
// stop the server.
func (a *Application) runWorker(g *errgroup.Group, ctx context.Context, name string, fn func(context.Context) error) {
	g.Go(func() error {
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).Str("worker", name).Msg("background worker stopped")
		}
		return nil
	})
}
