// Command lambda is the AWS Lambda entry point.  Every object-created
// notification on the source bucket yields an upright WebP original and a
// thumbnail in the destination bucket.
//
// Configuration comes from the environment (SOURCE_BUCKET,
// DESTINATION_BUCKET, DESTINATION_ORIGINAL_PATH, ...) and, when
// IMGPROC_CONFIG names a file, from that file.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus"

	imageprocessor "github.com/ReGLOSS/Trackery-ImageProcessor"
	"github.com/ReGLOSS/Trackery-ImageProcessor/adapters/storage"
	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/handler"
	"github.com/ReGLOSS/Trackery-ImageProcessor/hooks"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("IMGPROC_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Storage = config.StorageS3
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := hooks.NewZap(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	proc := imageprocessor.New(cfg,
		imageprocessor.WithLogger(logger),
		imageprocessor.WithMetrics(hooks.NewPrometheusMetrics(reg)),
	)
	defer proc.Close()

	client, err := storage.NewAWSClient(context.Background(), cfg.S3)
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}
	store, err := storage.NewS3(client, cfg.S3.DestinationBucket)
	if err != nil {
		return fmt.Errorf("init s3 storage: %w", err)
	}

	h := handler.New(proc, store, cfg.S3,
		handler.WithLogger(logger.With("component", "handler")),
		handler.WithFormat(proc.OutputFormat()),
		handler.WithChunkSize(cfg.ChunkSize),
	)
	pub := hooks.NewPublisher(reg, cfg.Metrics, os.Getenv("AWS_LAMBDA_LOG_STREAM_NAME"),
		logger.With("component", "metrics"))

	logger.Info("lambda ready",
		"source_bucket", cfg.S3.SourceBucket,
		"destination_bucket", cfg.S3.DestinationBucket,
		"original_prefix", cfg.S3.OriginalPrefix,
		"thumbnail_prefix", cfg.S3.ThumbnailPrefix,
		"backend", cfg.Backend,
		"push_gateway", cfg.Metrics.PushGateway,
	)
	lambda.Start(func(ctx context.Context, ev events.S3Event) (string, error) {
		out, err := h.HandleEvent(ctx, ev)
		// The execution environment may be frozen right after returning.
		if perr := pub.Publish(ctx); perr != nil {
			logger.Warn("publish metrics", "error", perr)
		}
		return out, err
	})
	return nil
}
