package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"edcomposer/internal/artifacts"
	"edcomposer/internal/compositions"
	"edcomposer/internal/config"
	"edcomposer/internal/events"
	"edcomposer/internal/httpapi"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/pkg/shutdown"
	"edcomposer/internal/render"
	"edcomposer/internal/repositories"
	"edcomposer/internal/session"
	"edcomposer/internal/storage"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (default $EDCOMPOSER_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "edcomposer: invalid configuration:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logger("edcomposer-api"))
	log.Info("starting edcomposer API", "version", version)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	// Compositions come from Postgres when configured, with the builtin
	// catalog behind it. Without a database, edits only live in memory.
	static := compositions.NewStaticCatalog(compositions.Builtin()...)
	var catalog compositions.Catalog = static
	var store compositions.Store = static
	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.RegisterSimple("postgres", pool.Close)

		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		repo := repositories.NewCompositionRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.LogFatal("failed to prepare compositions table", err)
		}
		seeded, err := compositions.Seed(ctx, repo, compositions.Builtin()...)
		if err != nil {
			log.LogFatal("failed to seed builtin compositions", err)
		}
		catalog = compositions.Fallback{Primary: repo, Secondary: static}
		store = repo
		log.Info("PostgreSQL connected", "seeded_compositions", seeded)
	}

	var bus events.Bus = events.NewMemoryBus()
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis")
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		bus = events.NewRedisBus(rdb, cfg.Redis.EventsChannel, log)
		log.Info("Redis connected", "channel", cfg.Redis.EventsChannel)
	}
	shutdownMgr.Register("event-bus", func(ctx context.Context) error {
		return bus.Close()
	})

	log.Info("initializing storage provider")
	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	var mirror session.Copier
	if cfg.Artifacts.Mirror {
		mirror = artifacts.NewMirror(sp, artifacts.Options{
			Timeout:  cfg.Artifacts.Timeout.Std(),
			MaxBytes: cfg.Artifacts.MaxBytes,
			Log:      log,
		})
		log.Info("artifact mirroring enabled", "provider", sp.Provider())
	}

	backend, err := render.NewHTTPClient(cfg.Renderer.BaseURL, cfg.Renderer.RequestTimeout.Std())
	if err != nil {
		log.LogFatal("invalid renderer base url", err)
	}

	sess := session.New(session.Deps{
		Backend: backend,
		Config:  cfg.Orchestrator(),
		Catalog: catalog,
		Bus:     bus,
		Mirror:  mirror,
		Retain:  cfg.Artifacts.Retain,
		Prune:   cfg.Artifacts.Prune,
		Log:     log,
	})
	shutdownMgr.Register("render-session", sess.Close)

	router := httpapi.NewRouter(httpapi.Deps{
		Session:        sess,
		Compositions:   store,
		Pool:           pool,
		RDB:            rdb,
		SP:             sp,
		RendererURL:    backend.BaseURL(),
		AllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		Log:            log,
	})

	// No WriteTimeout: /render/events and /artifacts stream for as long as
	// the client stays.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Registered last so it stops first.
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"renderer", backend.BaseURL(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
