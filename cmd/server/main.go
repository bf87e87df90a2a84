package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/volaticloud/runbox/internal/artifacts"
	"github.com/volaticloud/runbox/internal/auth"
	"github.com/volaticloud/runbox/internal/config"
	"github.com/volaticloud/runbox/internal/logger"
	"github.com/volaticloud/runbox/internal/producer"
	"github.com/volaticloud/runbox/internal/pubsub"
	"github.com/volaticloud/runbox/internal/queue"
	"github.com/volaticloud/runbox/internal/realtime"
	"github.com/volaticloud/runbox/internal/store"
)

func main() {
	app := &cli.App{
		Name:    "runbox-server",
		Usage:   "Runbox Producer - accepts execution requests, serves history, artifacts and realtime updates",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the Producer's tenant-facing and internal HTTP servers",
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: runMigrate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	zapLogger := logger.NewLoggerFromEnv()
	defer zapLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		zapLogger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.Open(cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	jobQueue, err := queue.Connect(ctx, cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to connect to job queue: %w", err)
	}
	defer jobQueue.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	ps := pubsub.NewRedisPubSub(rdb)

	verifier, err := auth.NewVerifier(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer), auth.WithAudience(cfg.JWTAudience))
	if err != nil {
		return fmt.Errorf("failed to build jwt verifier: %w", err)
	}

	hub := realtime.NewHub(
		verifier,
		realtime.WithPubSub(ps),
		realtime.WithAllowedOrigins(cfg.AllowedOrigins),
		realtime.WithLogger(zapLogger),
	)

	artifactStore := artifacts.NewStore(cfg.ArtifactsRoot, cfg.ArtifactsBaseURL)

	producerCfg := producer.DefaultConfig()
	producerCfg.AllowedOrigins = cfg.AllowedOrigins
	srv := producer.New(db, jobQueue, hub, artifactStore, verifier, zapLogger, producerCfg)

	zapLogger.Info("starting producer",
		zap.String("addr", cfg.Addr()),
		zap.String("internalAddr", cfg.InternalAddr()),
	)
	return srv.Serve(ctx, cfg.Addr(), cfg.InternalAddr())
}

func runMigrate(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := store.Open(cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
