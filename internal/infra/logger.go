package infra

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a slog.Logger with log rotation support. When the
// config sets a queue limit, records pass through an async bounded queue
// so hot paths never block on log I/O.
func NewLogger(cfg *Config) *slog.Logger {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// Fallback to stderr if directory creation fails
		return slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "app.log"),
		MaxSize:    10,   // Megabytes
		MaxBackups: 3,    // Number of backups
		MaxAge:     28,   // Days
		Compress:   true,
	}

	// Multi-writer: log to both file and stdout
	writer := io.MultiWriter(os.Stdout, fileLogger)

	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	handler := slog.Handler(slog.NewJSONHandler(writer, opts))

	if cfg.Logging.QueueLimit > 0 {
		handler = NewAsyncHandler(handler, cfg.Logging.QueueLimit, cfg.Logging.DropHaltThreshold)
	}
	return slog.New(handler)
}

// AsyncHandler decouples record emission from I/O through a bounded
// queue. When the queue is full the record is dropped and counted; once
// drops exceed the halt threshold the process emits a final diagnostic
// and exits, because sustained drops mean logging cannot keep up.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

type logItem struct {
	handler slog.Handler
	rec     slog.Record
}

// asyncCore is shared across WithAttrs/WithGroup derivations so all of
// them feed one queue and one drop counter.
type asyncCore struct {
	queue chan logItem
	drops atomic.Int64

	haltThreshold int64
	haltOnce      sync.Once
	halt          func()

	done chan struct{}
}

// NewAsyncHandler wraps inner with a queue of the given size. A
// non-positive halt threshold disables the halt behaviour.
func NewAsyncHandler(inner slog.Handler, queueLimit, haltThreshold int) *AsyncHandler {
	core := &asyncCore{
		queue:         make(chan logItem, queueLimit),
		haltThreshold: int64(haltThreshold),
		halt:          func() { os.Exit(1) },
		done:          make(chan struct{}),
	}
	go core.drain()
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) drain() {
	defer close(c.done)
	for item := range c.queue {
		_ = item.handler.Handle(context.Background(), item.rec)
	}
}

// Enabled defers to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record without blocking.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error {
	select {
	case h.core.queue <- logItem{handler: h.inner, rec: rec.Clone()}:
		return nil
	default:
	}

	drops := h.core.drops.Add(1)
	if h.core.haltThreshold > 0 && drops > h.core.haltThreshold {
		h.core.haltOnce.Do(func() {
			_ = h.inner.Handle(context.Background(), slog.NewRecord(
				rec.Time, slog.LevelError,
				"Logger queue overloaded, halting", rec.PC,
			))
			h.core.halt()
		})
	}
	return nil
}

// WithAttrs derives a handler sharing the queue and drop counter.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler sharing the queue and drop counter.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// Dropped returns how many records the queue has discarded.
func (h *AsyncHandler) Dropped() int64 {
	return h.core.drops.Load()
}

// Close stops the drain worker after flushing queued records.
func (h *AsyncHandler) Close() {
	close(h.core.queue)
	<-h.core.done
}
