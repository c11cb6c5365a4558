package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/media-registry/media-registry/internal/config"
	"github.com/media-registry/media-registry/internal/safego"
	"github.com/media-registry/media-registry/internal/storage"
	"github.com/media-registry/media-registry/internal/telemetry"
)

// ErrPoolClosed is returned by Download after Close has been called.
var ErrPoolClosed = errors.New("download pool is shut down")

// Executor runs blocking fetches on a fixed-size worker pool so caller
// threads (the HTTP handler pool) are never occupied by slow remote I/O. The
// queue is the backpressure mechanism: when it saturates, callers wait their
// turn up to the overall ceiling and then time out rather than hang.
type Executor struct {
	backend  storage.Backend
	resolver *Resolver
	cache    Cache
	metrics  *SuccessMetrics
	log      *slog.Logger

	tasks   chan *downloadTask
	ceiling time.Duration
	grace   time.Duration

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

type downloadTask struct {
	ctx    context.Context
	id     string
	result chan downloadResult
}

type downloadResult struct {
	data []byte
	err  error
}

// NewExecutor starts the worker pool. Workers run until Close.
func NewExecutor(cfg *config.DownloadConfig, backend storage.Backend, resolver *Resolver, cache Cache, metrics *SuccessMetrics) *Executor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 10
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	ceiling := cfg.Ceiling
	if ceiling <= 0 {
		ceiling = 2 * time.Minute
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 60 * time.Second
	}

	e := &Executor{
		backend:  backend,
		resolver: resolver,
		cache:    cache,
		metrics:  metrics,
		log:      slog.Default().With("component", "download"),
		tasks:    make(chan *downloadTask, queueSize),
		ceiling:  ceiling,
		grace:    grace,
		closed:   make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		safego.Go(func() {
			defer e.wg.Done()
			e.worker()
		})
	}
	return e
}

func (e *Executor) worker() {
	for {
		select {
		case <-e.closed:
			return
		case t := <-e.tasks:
			data, err := e.fetchWithFallback(t.ctx, t.id)
			// Buffered channel; the caller may already have given up.
			t.result <- downloadResult{data: data, err: err}
		}
	}
}

// Download retrieves the object's bytes. The call blocks for at most the
// configured ceiling; on timeout the in-flight task's context is cancelled
// and a *TimeoutError is returned. Caller cancellation surfaces as a
// *CanceledError.
func (e *Executor) Download(ctx context.Context, id string) ([]byte, error) {
	start := time.Now()
	defer func() {
		telemetry.DownloadDuration.Observe(time.Since(start).Seconds())
	}()

	// The task queue stays writable after Close (it is buffered), so a
	// submitted task would sit unserved forever. Refuse up front.
	select {
	case <-e.closed:
		telemetry.DownloadsTotal.WithLabelValues("canceled").Inc()
		return nil, ErrPoolClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, e.ceiling)
	defer cancel()

	t := &downloadTask{
		ctx:    ctx,
		id:     id,
		result: make(chan downloadResult, 1),
	}

	select {
	case e.tasks <- t:
	case <-e.closed:
		telemetry.DownloadsTotal.WithLabelValues("canceled").Inc()
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, e.finish(id, ctx.Err(), start)
	}

	select {
	case res := <-t.result:
		if res.err != nil {
			return nil, e.finish(id, res.err, start)
		}
		telemetry.DownloadsTotal.WithLabelValues("ok").Inc()
		return res.data, nil
	case <-ctx.Done():
		return nil, e.finish(id, ctx.Err(), start)
	}
}

// finish classifies a failed download into the caller-visible error taxonomy
// and records the outcome.
func (e *Executor) finish(id string, err error, start time.Time) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		telemetry.DownloadsTotal.WithLabelValues("timeout").Inc()
		return &TimeoutError{ID: id, Elapsed: time.Since(start)}
	case errors.Is(err, context.Canceled):
		telemetry.DownloadsTotal.WithLabelValues("canceled").Inc()
		return &CanceledError{ID: id}
	case storage.IsNetwork(err):
		telemetry.DownloadsTotal.WithLabelValues("network_error").Inc()
		return err
	case IsNotFoundClass(err):
		telemetry.DownloadsTotal.WithLabelValues("not_found").Inc()
		return err
	default:
		telemetry.DownloadsTotal.WithLabelValues("network_error").Inc()
		return err
	}
}

// fetchWithFallback runs inside a worker. The resolved type is attempted
// first; on failure the remaining domain is tried in the default ranking
// order, always in authenticated mode. Success writes the confirmed type back
// into the cache.
func (e *Executor) fetchWithFallback(ctx context.Context, id string) ([]byte, error) {
	order := make([]storage.ResourceType, 0, 3)
	if rt, ok, err := e.resolver.Resolve(ctx, id); err != nil {
		return nil, err
	} else if ok {
		order = append(order, rt)
	}
	for _, rt := range defaultProbeRanking {
		if len(order) > 0 && order[0] == rt {
			continue
		}
		order = append(order, rt)
	}

	var lastErr error
	for _, rt := range order {
		data, err := e.backend.Fetch(ctx, id, rt, true)
		if err == nil {
			e.cache.Put(ctx, id, rt)
			e.metrics.Increment(rt)
			return data, nil
		}
		if storage.IsNetwork(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Not-found, access-mode, and other I/O errors are all potentially
		// type-related; the next type may still serve.
		e.log.Debug("fetch attempt failed, trying next type",
			"id", id, "type", rt, "error", err)
		lastErr = err
	}

	e.log.Info("object unreadable under every resource type", "id", id, "last_error", fmt.Sprint(lastErr))
	return nil, &ObjectUnavailableError{ID: id}
}

// Close drains the pool with a bounded grace period. Workers finishing their
// current task exit once the closed channel is observed; tasks still queued
// are abandoned and their callers unblock via their contexts.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(e.grace):
		return fmt.Errorf("download pool did not drain within %s", e.grace)
	}
}
