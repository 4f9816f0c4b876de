package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/receipt-tracking/ingestion/internal/async"
	"github.com/receipt-tracking/ingestion/internal/backoff"
	"github.com/receipt-tracking/ingestion/internal/common"
	"github.com/receipt-tracking/ingestion/internal/event"
	"github.com/receipt-tracking/ingestion/internal/ingest"
	"github.com/receipt-tracking/ingestion/internal/llm/gemini"
	"github.com/receipt-tracking/ingestion/internal/ocr"
	"github.com/receipt-tracking/ingestion/internal/pipeline"
	"github.com/receipt-tracking/ingestion/internal/repository"
	"github.com/receipt-tracking/ingestion/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	watchDir := flag.String("watch", "", "process files from a local directory instead of upload notifications")
	plain := flag.Bool("plain", false, "use sparse text detection instead of document analysis")
	workers := flag.Int("workers", 4, "concurrent pipeline workers")
	flag.Parse()

	cfg := common.LoadConfig()
	if err := cfg.ValidatePipeline(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	publisher := event.NewRedisPublisher(rdb, cfg.Redis.EventsChannel, logger)

	var fetcher storage.ObjectFetcher
	if *watchDir != "" {
		fetcher = storage.NewDirFetcher(*watchDir, logger)
	} else {
		gcsFetcher, err := storage.NewGCSFetcher(ctx, logger)
		if err != nil {
			logger.Error("creating storage fetcher", "error", err)
			os.Exit(1)
		}
		fetcher = gcsFetcher
	}

	var procOpts []pipeline.ProcessorOption
	if *plain {
		procOpts = append(procOpts, pipeline.WithPlainTextDetection())
	}
	proc := pipeline.NewProcessor(fetcher, vision, parser, repo, publisher, logger, procOpts...)
	queue := async.NewProcessorQueue(proc, logger, async.WithWorkers(*workers))

	if *watchDir != "" {
		runWatchMode(ctx, logger, queue, *watchDir)
	} else {
		runSubscribeMode(ctx, logger, queue, rdb, cfg.Redis.UploadsChannel)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	logger.Info("ingestd stopped")
}

func runWatchMode(ctx context.Context, logger *slog.Logger, queue async.Queue, dir string) {
	evCh, errCh, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Root:        dir,
		Bucket:      "local",
		InitialScan: true,
		Debounce:    500 * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Error("starting watcher", "dir", dir, "error", err)
		os.Exit(1)
	}
	logger.Info("watching directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			enqueue(ctx, queue, ev)
		case werr, ok := <-errCh:
			if ok && werr != nil {
				logger.Warn("watcher error", "error", werr)
			}
		}
	}
}

func runSubscribeMode(ctx context.Context, logger *slog.Logger, queue async.Queue, rdb *redis.Client, channel string) {
	sub := rdb.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()
	logger.Info("subscribed to upload notifications", "channel", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev pipeline.IngestionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("discarding malformed upload notification", "error", err)
				continue
			}
			if ev.Bucket == "" || ev.Name == "" {
				logger.Warn("discarding incomplete upload notification", "payload", msg.Payload)
				continue
			}
			enqueue(ctx, queue, ev)
		}
	}
}

func enqueue(ctx context.Context, queue async.Queue, ev pipeline.IngestionEvent) {
	_ = queue.Enqueue(ctx, async.Job{
		Event:       ev,
		SubmittedAt: time.Now(),
		TraceID:     uuid.NewString(),
	})
}
