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

	"github.com/volaticloud/runbox/internal/aianalyzer"
	"github.com/volaticloud/runbox/internal/artifacts"
	"github.com/volaticloud/runbox/internal/config"
	"github.com/volaticloud/runbox/internal/containerengine"
	"github.com/volaticloud/runbox/internal/logger"
	"github.com/volaticloud/runbox/internal/metricscache"
	"github.com/volaticloud/runbox/internal/queue"
	"github.com/volaticloud/runbox/internal/worker"
)

func main() {
	app := &cli.App{
		Name:    "runbox-worker",
		Usage:   "Runbox Worker - pulls jobs off the Job Queue and runs them in one-shot containers",
		Version: "0.1.0",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start pulling and processing jobs",
				Action: runWorker,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(c *cli.Context) error {
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

	jobQueue, err := queue.Connect(ctx, cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to connect to job queue: %w", err)
	}
	defer jobQueue.Close()

	consumer, err := queue.NewConsumer(ctx, jobQueue, cfg.MaxAckPending)
	if err != nil {
		return fmt.Errorf("failed to create job consumer: %w", err)
	}
	fetcher := worker.NewQueueFetcher(consumer)

	engine, err := containerengine.New(ctx, containerengine.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("failed to connect to docker: %w", err)
	}
	defer engine.Close()
	if err := engine.HealthCheck(ctx); err != nil {
		return fmt.Errorf("docker daemon health check failed: %w", err)
	}

	artifactStore := artifacts.NewStore(cfg.ArtifactsRoot, cfg.ArtifactsBaseURL)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	metrics := metricscache.New(rdb)

	analyzer := aianalyzer.NewClient()
	reporter := worker.NewHTTPReporter(cfg.InternalBaseURL())

	processor := worker.NewProcessor(engine, artifactStore, metrics, analyzer, reporter, zapLogger, worker.Config{
		JobTimeout:   cfg.JobTimeout,
		FetchBatch:   cfg.FetchBatch,
		FetchMaxWait: cfg.FetchMaxWait,
	})
	if s3cfg := artifacts.S3ConfigFromEnv(); s3cfg != nil {
		mirror, err := artifacts.NewS3Backend(s3cfg)
		if err != nil {
			return fmt.Errorf("failed to build s3 artifact mirror: %w", err)
		}
		if err := mirror.EnsureBucket(ctx, s3cfg.Region); err != nil {
			return fmt.Errorf("failed to ensure s3 bucket: %w", err)
		}
		processor = processor.WithArtifactMirror(mirror)
		zapLogger.Info("s3 artifact mirroring enabled", zap.String("bucket", s3cfg.Bucket))
	}
	w := worker.New(fetcher, processor, zapLogger, worker.Config{
		JobTimeout:   cfg.JobTimeout,
		FetchBatch:   cfg.FetchBatch,
		FetchMaxWait: cfg.FetchMaxWait,
	})

	zapLogger.Info("starting worker", zap.String("natsUrl", cfg.NATSURL), zap.Int("maxAckPending", cfg.MaxAckPending))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	zapLogger.Info("worker stopped")
	return nil
}
