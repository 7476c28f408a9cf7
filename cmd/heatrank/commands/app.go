package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/wonny/heatrank/backend/internal/concepts"
	"github.com/wonny/heatrank/backend/internal/contracts"
	"github.com/wonny/heatrank/backend/internal/memstore"
	"github.com/wonny/heatrank/backend/internal/profile"
	"github.com/wonny/heatrank/backend/internal/s1_import"
	"github.com/wonny/heatrank/backend/internal/s2_rank"
	"github.com/wonny/heatrank/backend/internal/s3_newhigh"
	"github.com/wonny/heatrank/backend/internal/tasks"
	"github.com/wonny/heatrank/backend/pkg/config"
	"github.com/wonny/heatrank/backend/pkg/database"
	"github.com/wonny/heatrank/backend/pkg/httputil"
	"github.com/wonny/heatrank/backend/pkg/logger"
	"github.com/wonny/heatrank/backend/pkg/metrics"
	"github.com/wonny/heatrank/backend/pkg/redis"
)

// app holds the wired components shared by the commands
type app struct {
	cfg     *config.Config
	prof    *profile.Profile
	log     *logger.Logger
	metrics *metrics.Metrics

	db      *database.DB   // nil for dry runs
	redis   *redis.Client  // nil for dry runs
	writer  *s1_import.BulkWriter
	reader  contracts.MetricReader
	derived contracts.DerivedRepository
	members *concepts.Service
	coord   *s1_import.Coordinator
}

// loadConfig loads env config; local commands run without DATABASE_URL
func loadConfig(local bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if local {
		cfg, err = config.LoadLocal()
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if profilePath != "" {
		cfg.Import.ProfilePath = profilePath
	}
	return cfg, nil
}

// newLogger writes to stderr so command output stays on stdout
func newLogger(cfg *config.Config) *logger.Logger {
	return logger.NewWithWriter(cfg, os.Stderr)
}

func loadProfile(cfg *config.Config, log *logger.Logger) (*profile.Profile, error) {
	prof, err := profile.LoadOrDefault(cfg.Import.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	hash, _ := profile.Hash(prof)
	log.WithFields(map[string]interface{}{
		"profile_id": prof.Meta.ProfileID,
		"hash":       hash,
	}).Debug("Pipeline profile loaded")
	return prof, nil
}

// newApp wires the PostgreSQL-backed pipeline
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	prof, err := loadProfile(cfg, log)
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Debug("Connected to database")

	rdb, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	a := &app{
		cfg:     cfg,
		prof:    prof,
		log:     log,
		metrics: metrics.New(),
		db:      db,
		redis:   rdb,
	}

	// Concept memberships: feed client, alias overlay, shared cache
	httpClient := httputil.New(cfg, log).
		WithRateLimiter(redis.NewRateLimiter(rdb, "heatrank"), redis.ConceptFeedRateLimit)
	a.members = concepts.NewService(concepts.NewRepository(db.Pool), prof.Concepts.Aliases, log).
		WithFeed(httpClient, cfg.Concepts.FeedURL).
		WithCache(redis.NewCache(rdb, "heatrank"), cfg.Concepts.CacheTTL)

	derived := s2_rank.NewRepository(db.Pool)
	a.derived = derived
	a.writer = s1_import.NewBulkWriter(db.Pool, prof.Import.BatchSize, prof.Import.RelaxIntegrityChecks, log)

	var locks s1_import.DateLocker = s1_import.NewMemoryLocks()
	if cfg.Import.LockBackend == "redis" {
		locks = s1_import.NewRedisLocks(redis.NewLocker(rdb, "heatrank"), cfg.Import.LockTTL)
	}

	detector := s3_newhigh.NewDetector(derived, prof.Ranking.NewHighWindowDays, s3_newhigh.Policy(prof.Ranking.EqualityPolicy))
	a.reader = s1_import.NewRepository(db.Pool)
	engine := s2_rank.NewEngine(a.reader, a.members, derived, detector, log)

	a.coord = s1_import.NewCoordinator(s1_import.Deps{
		Store:      a.writer,
		Deriver:    engine,
		Tracker:    tasks.NewTracker(tasks.NewRepository(db.Pool), log),
		Locks:      locks,
		Learner:    a.members,
		Maintainer: a.writer,
		Metrics:    a.metrics,
	}, prof, cfg.Import.TempDir, log)

	return a, nil
}

// newDryRunApp wires the same pipeline over an in-memory store.
// memberFile optionally seeds concept memberships.
func newDryRunApp(ctx context.Context, memberFile string) (*app, *memstore.Store, error) {
	cfg, err := loadConfig(true)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg)

	prof, err := loadProfile(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	store := memstore.New()
	a := &app{
		cfg:     cfg,
		prof:    prof,
		log:     log,
		metrics: metrics.New(),
		reader:  store,
		derived: store,
		members: concepts.NewService(store, prof.Concepts.Aliases, log),
	}

	if memberFile != "" {
		f, err := os.Open(memberFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open membership file: %w", err)
		}
		defer f.Close()
		if _, err := a.members.RefreshFrom(ctx, f); err != nil {
			return nil, nil, fmt.Errorf("load membership file: %w", err)
		}
	}

	detector := s3_newhigh.NewDetector(store, prof.Ranking.NewHighWindowDays, s3_newhigh.Policy(prof.Ranking.EqualityPolicy))
	a.coord = s1_import.NewCoordinator(s1_import.Deps{
		Store:   store,
		Deriver: s2_rank.NewEngine(store, a.members, store, detector, log),
		Tracker: tasks.NewTracker(store, log),
		Learner: a.members,
		Metrics: a.metrics,
	}, prof, cfg.Import.TempDir, log)

	return a, store, nil
}

// Close releases connections
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
