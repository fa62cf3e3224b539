package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/database"
	"github.com/stemsi/exstem-portal/internal/gateway"
	"github.com/stemsi/exstem-portal/internal/repository"
	"github.com/stemsi/exstem-portal/internal/service"
	"github.com/stemsi/exstem-portal/internal/session"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	rdb  *redis.Client
	pool *pgxpool.Pool

	store   *repository.SessionRepository
	gw      *gateway.Client
	journal session.Journal
	queue   *repository.ReconcileQueue

	auth         *service.AuthService
	catalog      *service.CatalogService
	examSessions *service.ExamSessionService
}

type appOptions struct {
	// requireRedis fails startup when redis is unreachable instead of
	// falling back to the log journal.
	requireRedis bool
	// audit connects the reconciliation audit database when configured.
	audit bool
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: log}

	// ─── Connect to Redis ──────────────────────────────────────────────
	if cfg.StoreDriver == config.StoreDriverRedis {
		opts.requireRedis = true
	}
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	switch {
	case err == nil:
		a.rdb = rdb
	case opts.requireRedis:
		return nil, fmt.Errorf("connect redis: %w", err)
	default:
		log.Debug().Err(err).Msg("Redis unavailable, reconciliation events will only be logged")
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	if opts.audit {
		pool, err := database.NewAuditPool(ctx, cfg, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect audit database: %w", err)
		}
		a.pool = pool
	}

	// ─── Initialize Store ──────────────────────────────────────────────
	kv, err := a.openKV()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = repository.NewSessionRepository(kv, cfg.Profile)

	// ─── Initialize Gateway ────────────────────────────────────────────
	a.gw = gateway.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, nil, a.store, log)

	// ─── Initialize Journal ────────────────────────────────────────────
	if a.rdb != nil {
		a.queue = repository.NewReconcileQueue(a.rdb, config.WorkerKey.ReconcileQueue)
		a.journal = a.queue
	} else {
		a.journal = session.NewLogJournal(log)
	}

	// ─── Initialize Services ───────────────────────────────────────────
	a.auth = service.NewAuthService(a.gw, a.store, log)
	a.catalog = service.NewCatalogService(a.gw, a.store, log)
	a.examSessions = service.NewExamSessionService(a.store, a.gw, session.Options{
		TickInterval:      cfg.TickInterval,
		LowTimeThreshold:  cfg.LowTimeThreshold,
		CompletionTimeout: cfg.HTTPTimeout,
		Journal:           a.journal,
	}, log)

	return a, nil
}

func (a *app) openKV() (repository.KV, error) {
	switch a.cfg.StoreDriver {
	case config.StoreDriverFile:
		kv, err := repository.NewFileKV(a.cfg.StorePath, a.cfg.StoreKey)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return kv, nil
	case config.StoreDriverRedis:
		return repository.NewRedisKV(a.rdb), nil
	case config.StoreDriverMemory:
		a.log.Warn().Msg("Using the in-memory store, nothing survives this process")
		return repository.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.StoreDriver)
	}
}

// Close releases the live exam controller and every connection.
func (a *app) Close() {
	if a.examSessions != nil {
		a.examSessions.Reset()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
