package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncState is shared by every handler derived through WithAttrs/WithGroup.
type asyncState struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan asyncRecord
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to a pool of workers through a bounded
// channel. Records are dropped, and counted, when the channel is full.
// After Close, records are written synchronously.
type AsyncHandler struct {
	inner slog.Handler
	st    *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan asyncRecord, chanSize)}
	for range workers {
		st.wg.Add(1)
		go st.drain()
	}
	return &AsyncHandler{inner: inner, st: st}
}

func (st *asyncState) drain() {
	defer st.wg.Done()
	for r := range st.ch {
		_ = r.h.Handle(context.Background(), r.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.st.mu.RLock()
	defer h.st.mu.RUnlock()
	if h.st.closed {
		return h.inner.Handle(ctx, rec)
	}
	select {
	case h.st.ch <- asyncRecord{h: h.inner, rec: rec.Clone()}:
	default:
		h.st.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same workers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), st: h.st}
}

// WithGroup returns a handler sharing the same workers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), st: h.st}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.st.dropped.Load()
}

// Close drains queued records and stops the workers. Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.st.once.Do(func() {
		h.st.mu.Lock()
		h.st.closed = true
		close(h.st.ch)
		h.st.mu.Unlock()
		h.st.wg.Wait()
	})
}
