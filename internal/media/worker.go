package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ThumbnailWorkerConfig configures the background thumbnail pipeline.
type ThumbnailWorkerConfig struct {
	Backend   Backend
	Renderer  Renderer
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// ThumbnailWorker renders previews off the upload path. Rendering is best
// effort: failures are logged and the item stays available without a
// thumbnail.
type ThumbnailWorker struct {
	backend  Backend
	renderer Renderer
	workers  int
	timeout  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan Item
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

const (
	defaultThumbnailWorkers   = 2
	defaultThumbnailQueueSize = 64
	defaultThumbnailTimeout   = 2 * time.Minute
)

// NewThumbnailWorker builds a worker pool with the provided configuration.
func NewThumbnailWorker(cfg ThumbnailWorkerConfig) *ThumbnailWorker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultThumbnailWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultThumbnailQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultThumbnailTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ThumbnailWorker{
		backend:  cfg.Backend,
		renderer: cfg.Renderer,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan Item, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

// Start launches the worker goroutines and backfills previews for items that
// were stored before the worker existed.
func (w *ThumbnailWorker) Start() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	go w.recoverMissing()
}

// Shutdown stops the workers and waits for in-flight renders to finish.
func (w *ThumbnailWorker) Shutdown(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits an item for preview rendering. It never blocks the caller
// past queue capacity checks and is a no-op after shutdown.
func (w *ThumbnailWorker) Enqueue(item Item) {
	if w == nil || strings.TrimSpace(item.ID) == "" {
		return
	}
	select {
	case <-w.ctx.Done():
		return
	default:
	}
	select {
	case w.queue <- item:
	case <-w.ctx.Done():
	}
}

func (w *ThumbnailWorker) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case item := <-w.queue:
			if strings.TrimSpace(item.ID) == "" {
				continue
			}
			if !w.beginWork(item.ID) {
				continue
			}
			w.render(item)
			w.finishWork(item.ID)
		}
	}
}

func (w *ThumbnailWorker) beginWork(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.inFlight[id]; exists {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *ThumbnailWorker) finishWork(id string) {
	w.mu.Lock()
	delete(w.inFlight, id)
	w.mu.Unlock()
}

func (w *ThumbnailWorker) recoverMissing() {
	if w.backend == nil {
		return
	}
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()
	items, err := w.backend.List(ctx)
	if err != nil {
		w.logger.Error("failed to list media for thumbnail recovery", "error", err)
		return
	}
	for _, item := range items {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		if !item.HasThumbnail {
			w.Enqueue(item)
		}
	}
}

func (w *ThumbnailWorker) render(item Item) {
	if w.backend == nil || w.renderer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	sourcePath, cleanup, err := w.backend.Stage(ctx, item.ID)
	if err != nil {
		w.logger.Error("failed to stage media for thumbnail", "media_id", item.ID, "error", err)
		return
	}
	defer cleanup()

	preview, err := w.renderer.Render(ctx, item.Category, sourcePath)
	if err != nil {
		w.logger.Error("thumbnail render failed", "media_id", item.ID, "error", err)
		return
	}
	if err := w.backend.StoreThumbnail(ctx, item.ID, preview); err != nil {
		w.logger.Error("failed to store thumbnail", "media_id", item.ID, "error", err)
		return
	}
	w.logger.Info("thumbnail rendered", "media_id", item.ID, "bytes", len(preview))
}
