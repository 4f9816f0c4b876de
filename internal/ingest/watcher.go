package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/receipt-tracking/ingestion/constants"
	"github.com/receipt-tracking/ingestion/internal/pipeline"
)

type WatchConfig struct {
	Root        string        // directory to watch (recursive)
	Bucket      string        // value stamped on emitted events
	InitialScan bool          // if true, walk the root and emit existing files
	Debounce    time.Duration // coalesce rapid update/rename bursts
}

// StartWatcher emits an ingestion event for every receipt image that appears
// under the root. Event names are slash-separated paths relative to the
// root, so "alice/receipt.jpg" carries its owner segment the same way an
// object upload would.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan pipeline.IngestionEvent, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		logger.Error("watcher start failed: no root provided")
		return nil, nil, errors.New("no root provided")
	}
	evCh := make(chan pipeline.IngestionEvent, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	emit := func(path string) {
		rel, rerr := filepath.Rel(cfg.Root, path)
		if rerr != nil {
			return
		}
		ev := pipeline.IngestionEvent{Bucket: cfg.Bucket, Name: filepath.ToSlash(rel)}
		select {
		case evCh <- ev:
		default:
			logger.Warn("watch event channel full, dropping", "name", ev.Name)
		}
	}

	// Add the root recursively.
	addErr := filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if cfg.InitialScan && allowed(path) {
			emit(path)
		}
		return nil
	})
	if addErr != nil {
		logger.Error("failed to add root directory", "root", cfg.Root, "error", addErr)
		_ = w.Close()
		return nil, nil, addErr
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() { _ = w.Close() }()

		// pending is only ever touched from this goroutine; the debounce
		// timer just signals back into the loop via its channel.
		var timer *time.Timer
		var timerC <-chan time.Time
		pending := map[string]struct{}{}

		sendPending := func() {
			for p := range pending {
				emit(p)
				delete(pending, p)
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-timerC:
				timerC = nil
				sendPending()
			case e := <-w.Events:
				if e.Op&fsnotify.Create == fsnotify.Create {
					// New directories need their own watch; for files the
					// Add fails and that is fine.
					_ = w.Add(e.Name)
				}

				if allowed(e.Name) && (e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename)) != 0 {
					pending[e.Name] = struct{}{}
					if cfg.Debounce > 0 {
						if timer == nil {
							timer = time.NewTimer(cfg.Debounce)
						} else {
							if !timer.Stop() {
								select {
								case <-timer.C:
								default:
								}
							}
							timer.Reset(cfg.Debounce)
						}
						timerC = timer.C
					} else {
						sendPending()
					}
				}
			case werr := <-w.Errors:
				logger.Error("watcher error", "error", werr)
				select {
				case errCh <- werr:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func allowed(path string) bool {
	return constants.IsImageExt(filepath.Ext(path))
}
