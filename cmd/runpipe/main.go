package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/receipt-tracking/ingestion/internal/backoff"
	"github.com/receipt-tracking/ingestion/internal/common"
	"github.com/receipt-tracking/ingestion/internal/event"
	"github.com/receipt-tracking/ingestion/internal/llm/gemini"
	"github.com/receipt-tracking/ingestion/internal/ocr"
	"github.com/receipt-tracking/ingestion/internal/pipeline"
	"github.com/receipt-tracking/ingestion/internal/repository"
	"github.com/receipt-tracking/ingestion/internal/storage"
)

// runpipe pushes a single object through the full pipeline. Useful for
// checking credentials and prompt behavior without the daemon.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	plain := flag.Bool("plain", false, "use sparse text detection instead of document analysis")
	flag.Parse()
	if flag.NArg() < 2 {
		logger.Error("usage: runpipe [-plain] <bucket> <object>")
		os.Exit(2)
	}
	bucket, object := flag.Arg(0), flag.Arg(1)

	cfg := common.LoadConfig()
	if err := cfg.ValidatePipeline(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fetcher, err := storage.NewGCSFetcher(ctx, logger)
	if err != nil {
		logger.Error("creating storage fetcher", "error", err)
		os.Exit(1)
	}

	vision, err := ocr.NewVisionClient(ctx, backoff.Policy{
		InitialDelay: cfg.OCR.InitialDelay,
		MaxDelay:     cfg.OCR.MaxDelay,
		Multiplier:   2.0,
		MaxAttempts:  cfg.OCR.MaxAttempts,
		Deadline:     cfg.OCR.Deadline,
	}, logger)
	if err != nil {
		logger.Error("creating vision client", "error", err)
		os.Exit(1)
	}

	parser, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if err != nil {
		logger.Error("creating gemini client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = parser.Close() }()

	repo, err := repository.NewFirestoreRepository(ctx, cfg.Firestore.ProjectID, cfg.Firestore.Collection, logger)
	if err != nil {
		logger.Error("creating firestore repository", "error", err)
		os.Exit(1)
	}
	defer func() { _ = repo.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	publisher := event.NewRedisPublisher(rdb, cfg.Redis.EventsChannel, logger)

	var opts []pipeline.ProcessorOption
	if *plain {
		opts = append(opts, pipeline.WithPlainTextDetection())
	}
	proc := pipeline.NewProcessor(fetcher, vision, parser, repo, publisher, logger, opts...)

	if err := proc.Process(ctx, pipeline.IngestionEvent{Bucket: bucket, Name: object}); err != nil {
		logger.Error("pipeline failed", "bucket", bucket, "object", object, "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline completed", "bucket", bucket, "object", object)
}
