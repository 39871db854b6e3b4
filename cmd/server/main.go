package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kartikbazzad/catopus/internal/config"
	"github.com/kartikbazzad/catopus/internal/database"
	"github.com/kartikbazzad/catopus/internal/executor"
	"github.com/kartikbazzad/catopus/internal/fanout"
	"github.com/kartikbazzad/catopus/internal/handlers"
	"github.com/kartikbazzad/catopus/internal/jobs"
	"github.com/kartikbazzad/catopus/internal/metrics"
	"github.com/kartikbazzad/catopus/internal/registry"
	"github.com/kartikbazzad/catopus/internal/services"
	"github.com/kartikbazzad/catopus/internal/shardpool"
	"github.com/kartikbazzad/catopus/internal/sink"
	"github.com/kartikbazzad/catopus/internal/storage"
	"github.com/kartikbazzad/catopus/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML/JSON config file (optional; env CATOPUS_* always applies)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		logger.Error("catopus server exited", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logger.Component("server")

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Info(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(cfg.Clusters, cfg.ShardIDs)
	if err != nil {
		return fmt.Errorf("failed to build shard registry: %w", err)
	}
	log.Info("shard registry loaded", "shards", reg.Len(), "clusters", len(reg.Clusters()), "names", reg.Names())

	db, err := database.NewDB(ctx, database.Config{
		Host:     cfg.Warehouse.Host,
		Port:     cfg.Warehouse.Port,
		User:     cfg.Warehouse.User,
		Password: cfg.Warehouse.Password,
		Name:     cfg.Warehouse.Name,
		Schema:   cfg.Warehouse.Schema,
		MaxConns: cfg.Warehouse.MaxConns,
		Migrate:  cfg.Warehouse.Migrate,
	}, logger.Component("database"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	blobStore, err := newStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}

	pools := shardpool.NewManager(
		shardpool.Credentials{User: cfg.Shards.User, Password: cfg.Shards.Password},
		shardpool.Options{MaxOpen: cfg.Shards.MaxOpen, MaxIdle: cfg.Shards.MaxIdle, MaxLifetime: cfg.Shards.Lifetime},
	)
	defer func() {
		if err := pools.Close(); err != nil {
			log.Warn("failed to close shard pools", "error", err)
		}
	}()
	if err := metrics.RegisterPools(pools.Stats); err != nil {
		log.Warn("failed to register shard pool metrics", "error", err)
	}

	warehouse := sink.NewWarehouse(db.Pool, cfg.Warehouse.Schema, cfg.Sink.ChunkSize, logger.Component("sink"))
	coordinator := fanout.New(reg, executor.New(pools, cfg.Fanout.Timeout), fanout.Options{
		Concurrency: cfg.Fanout.Concurrency,
		Persister:   warehouse,
		Logger:      logger.Component("fanout"),
	})

	runLogs := services.NewRunLogService(db.Pool)
	queries := services.NewQueryService(coordinator, sink.NewBlobs(blobStore), services.NewArtifactService(db.Pool), warehouse, logger.Component("query"))

	remote := jobs.NewRemote(coordinator, runLogs, logger.Component("remote"))
	runner, err := jobs.NewRunner(jobs.RemoteExecutor(remote), cfg.Jobs.Workers, cfg.Jobs.Drain, logger.Component("jobs"))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.RouterConfig{
		Queries:    queries,
		Runner:     runner,
		RunLogs:    runLogs,
		Scripts:    services.NewScriptService(db.Pool),
		Shards:     reg,
		Logger:     logger.Component("http"),
		CORSOrigin: cfg.Server.CORSOrigin,
		UserHeader: cfg.Server.UserHeader,
		RateLimit:  cfg.Server.RateLimit,
		Burst:      cfg.Server.Burst,
		Health: func(ctx context.Context) error {
			return db.Pool.Ping(ctx)
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("catopus API server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := runner.Close(); err != nil {
		log.Warn("remote jobs interrupted", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func newStore(cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Endpoint == "" {
		return storage.NewDir(cfg.Dir)
	}
	return storage.NewMinIO(storage.MinIOConfig{
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKey,
		SecretAccessKey: cfg.SecretKey,
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		UseSSL:          cfg.SSL,
	})
}
