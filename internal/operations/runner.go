// Package operations runs batch work (folder indexing, matrix fits,
// refreshes) on a bounded worker pool and reports progress through a
// single completion channel. The engine never calls presentation code;
// collaborators drain Events().
package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"sxmcli/internal/config"
	"sxmcli/internal/dataset"
	"sxmcli/internal/errs"
	"sxmcli/internal/fitting"
	"sxmcli/internal/infrastructure"
	"sxmcli/internal/spectroscopy"
	"sxmcli/pkg/contracts/domain"
	"sxmcli/pkg/contracts/events"
)

type batchKind string

const (
	kindIndexParse batchKind = "index_parse"
	kindMatrixFit  batchKind = "matrix_fit"
	kindRefresh    batchKind = "refresh"
)

// batch is one submitted unit of work, identified by its token. maps
// and changed hold the batch product for the result store once the
// work function set them.
type batch struct {
	token   string
	kind    batchKind
	paths   []string
	channel string

	maps    *domain.FitMaps
	changed []string

	mu        sync.Mutex
	cancelled bool
	cancelFn  context.CancelFunc
}

// requestCancel marks the batch cancelled and, when it is already
// executing, cancels its context.
func (b *batch) requestCancel() {
	b.mu.Lock()
	b.cancelled = true
	if b.cancelFn != nil {
		b.cancelFn()
	}
	b.mu.Unlock()
}

// bind attaches the execution cancel function. It reports false when
// the batch was cancelled while still queued.
func (b *batch) bind(cancel context.CancelFunc) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return false
	}
	b.cancelFn = cancel
	return true
}

// Runner executes batches on a fixed pool of workers. Per-item results
// stream out as events; every batch ends with exactly one BatchDone,
// cancelled or not, after all of its other events.
type Runner struct {
	index   *dataset.Index
	loader  *spectroscopy.Loader
	fitter  *fitting.Fitter
	logger  *slog.Logger
	metrics *infrastructure.Metrics
	tracer  *BatchTracer

	workers  int
	jobs     chan *batch
	events   chan events.Event
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	active  map[string]*batch
	results *ResultStore
}

// NewRunner wires a runner over the dataset index, sweep loader and
// fitter. Worker count and buffer sizes come from cfg.Engine.
func NewRunner(cfg *config.Config, index *dataset.Index, loader *spectroscopy.Loader, fitter *fitting.Fitter, logger *slog.Logger, metrics *infrastructure.Metrics) *Runner {
	workers := cfg.Engine.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	queueSize := cfg.Engine.QueueSize
	if queueSize <= 0 {
		queueSize = 2 * workers
	}
	eventBuffer := cfg.Engine.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = infrastructure.NewMetrics()
	}

	return &Runner{
		index:    index,
		loader:   loader,
		fitter:   fitter,
		logger:   infrastructure.WithComponent(logger, "operations"),
		metrics:  metrics,
		tracer:   NewBatchTracer(),
		workers:  workers,
		jobs:     make(chan *batch, queueSize),
		events:   make(chan events.Event, eventBuffer),
		shutdown: make(chan struct{}),
		active:   make(map[string]*batch),
		results:  NewResultStore(),
	}
}

// Start launches the worker pool. Workers exit when ctx is done or the
// runner is stopped.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("starting batch runner", slog.Int("workers", r.workers))
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
}

// Stop shuts the pool down, waiting up to timeout for in-flight batches
// to finish. On a clean stop the events channel is closed so consumers
// ranging over it terminate.
func (r *Runner) Stop(timeout time.Duration) error {
	r.logger.Info("stopping batch runner")
	close(r.shutdown)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(r.events)
		r.logger.Info("batch runner stopped")
		return nil
	case <-time.After(timeout):
		r.logger.Warn("batch runner stop timed out")
		return fmt.Errorf("timeout waiting for workers to finish")
	}
}

// Events returns the completion channel shared by all batches.
func (r *Runner) Events() <-chan events.Event {
	return r.events
}

// Result retrieves the retained outcome of a finished batch. It is
// guaranteed to be present once the batch's BatchDone event has been
// observed.
func (r *Runner) Result(token string) (*BatchResult, bool) {
	return r.results.Get(token)
}

// DiscardResult drops a retained batch outcome.
func (r *Runner) DiscardResult(token string) {
	r.results.Delete(token)
}

// SubmitIndexParse queues a metadata parse for each path, emitting a
// FrameReady or BatchError per file.
func (r *Runner) SubmitIndexParse(paths []string) (string, error) {
	return r.submit(&batch{
		token: infrastructure.GenerateTraceID(),
		kind:  kindIndexParse,
		paths: append([]string(nil), paths...),
	})
}

// SubmitMatrixFit queues a matrix load from the given sweep sources
// followed by a per-cell parabola fit of the named channel, emitting a
// FitReady or BatchError per cell.
func (r *Runner) SubmitMatrixFit(paths []string, channel string) (string, error) {
	if len(paths) == 0 {
		return "", errs.Validation("matrix fit needs at least one sweep source", nil)
	}
	if channel == "" {
		return "", errs.Validation("matrix fit needs a channel name", nil)
	}
	return r.submit(&batch{
		token:   infrastructure.GenerateTraceID(),
		kind:    kindMatrixFit,
		paths:   append([]string(nil), paths...),
		channel: channel,
	})
}

// SubmitRefresh queues a re-stat of the open folder followed by a
// metadata parse of every changed path.
func (r *Runner) SubmitRefresh() (string, error) {
	return r.submit(&batch{token: infrastructure.GenerateTraceID(), kind: kindRefresh})
}

func (r *Runner) submit(b *batch) (string, error) {
	r.mu.Lock()
	r.active[b.token] = b
	r.mu.Unlock()

	select {
	case r.jobs <- b:
		r.logger.Info("batch queued",
			slog.String("token", b.token),
			slog.String("kind", string(b.kind)),
			slog.Int("items", len(b.paths)))
		return b.token, nil
	default:
		r.mu.Lock()
		delete(r.active, b.token)
		r.mu.Unlock()
		return "", fmt.Errorf("batch queue is full")
	}
}

// Cancel requests a best-effort stop of the batch identified by token.
// The signal is checked between per-item units; items already finished
// stay valid and the batch still ends with its BatchDone event.
func (r *Runner) Cancel(token string) error {
	r.mu.RLock()
	b, ok := r.active[token]
	r.mu.RUnlock()
	if !ok {
		return errs.Validation(fmt.Sprintf("no active batch with token %s", token), nil)
	}
	b.requestCancel()
	r.logger.Info("batch cancellation requested", slog.String("token", token))
	return nil
}

func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	logger := r.logger.With(slog.Int("worker_id", id))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-r.shutdown:
			logger.Debug("worker stopped by shutdown")
			return
		case b := <-r.jobs:
			r.run(ctx, b, logger)
		}
	}
}

// run executes one batch and guarantees its terminal BatchDone event,
// surviving panics in the work itself.
func (r *Runner) run(ctx context.Context, b *batch, logger *slog.Logger) {
	start := time.Now()
	var stats events.BatchStats
	cancelled := false

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("batch panicked",
				slog.String("token", b.token),
				slog.String("kind", string(b.kind)),
				slog.Any("panic", rec))
			stats.Failed++
			r.emit(events.Event{
				Type:      events.TypeBatchError,
				Token:     b.token,
				Timestamp: time.Now(),
				BatchError: &events.BatchError{
					Kind:    "panic",
					Message: fmt.Sprintf("batch panicked: %v", rec),
				},
			})
		}
		r.finish(b, cancelled, stats, start, logger)
	}()

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !b.bind(cancel) {
		cancelled = true
		return
	}

	bctx = infrastructure.WithTraceID(bctx, b.token)
	bctx, span := r.tracer.StartBatch(bctx, string(b.kind), b.token, len(b.paths))
	defer span.End()

	switch b.kind {
	case kindIndexParse:
		cancelled = r.runIndexParse(bctx, b, &stats)
	case kindMatrixFit:
		cancelled = r.runMatrixFit(bctx, b, &stats)
	case kindRefresh:
		cancelled = r.runRefresh(bctx, b, &stats)
	}
	if cancelled {
		MarkCancelled(span)
	}
}

func (r *Runner) finish(b *batch, cancelled bool, stats events.BatchStats, start time.Time, logger *slog.Logger) {
	stats.Elapsed = time.Since(start)

	r.mu.Lock()
	delete(r.active, b.token)
	r.mu.Unlock()

	if cancelled {
		r.metrics.RecordCancellation()
	}
	r.results.put(&BatchResult{
		Token:      b.token,
		Kind:       string(b.kind),
		Cancelled:  cancelled,
		Stats:      stats,
		Maps:       b.maps,
		Changed:    b.changed,
		FinishedAt: time.Now(),
	})
	r.emitFinal(events.Event{
		Type:      events.TypeBatchDone,
		Token:     b.token,
		Timestamp: time.Now(),
		BatchDone: &events.BatchDone{Cancelled: cancelled, Stats: stats},
	})
	logger.Info("batch finished",
		slog.String("token", b.token),
		slog.String("kind", string(b.kind)),
		slog.Bool("cancelled", cancelled),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
		slog.Duration("elapsed", stats.Elapsed))
}

// runIndexParse parses header metadata for each path. Returns true when
// the batch was cancelled partway.
func (r *Runner) runIndexParse(ctx context.Context, b *batch, stats *events.BatchStats) bool {
	stats.Submitted = len(b.paths)
	for i, path := range b.paths {
		if ctx.Err() != nil {
			stats.Skipped = len(b.paths) - i
			return true
		}
		r.parseOne(ctx, b.token, path, stats)
	}
	return false
}

// parseOne loads one file's metadata through the index cache and emits
// the matching event.
func (r *Runner) parseOne(ctx context.Context, token, path string, stats *events.BatchStats) {
	ictx, span := r.tracer.StartItem(ctx, "parse_meta", path)
	defer span.End()

	meta, err := r.index.Meta(path)
	if err != nil {
		infrastructure.RecordError(ictx, err)
		stats.Failed++
		r.emit(events.Event{
			Type:      events.TypeBatchError,
			Token:     token,
			Timestamp: time.Now(),
			BatchError: &events.BatchError{
				Path:    path,
				Kind:    errs.Label(err),
				Message: err.Error(),
			},
		})
		return
	}

	stats.Succeeded++
	r.emit(events.Event{
		Type:       events.TypeFrameReady,
		Token:      token,
		Timestamp:  time.Now(),
		FrameReady: &events.FrameReady{Path: path, Meta: meta},
	})
}

// runMatrixFit loads the matrix and fits every present cell. Stats
// count cells; a failed source load counts as one failed unit.
func (r *Runner) runMatrixFit(ctx context.Context, b *batch, stats *events.BatchStats) bool {
	loadCtx, loadSpan := r.tracer.StartItem(ctx, "load_matrix", b.paths[0])
	scan, err := r.loader.LoadMatrix(loadCtx, b.paths)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			loadSpan.End()
			return true
		}
		infrastructure.RecordError(loadCtx, err)
		loadSpan.End()
		stats.Submitted = 1
		stats.Failed = 1
		r.emit(events.Event{
			Type:      events.TypeBatchError,
			Token:     b.token,
			Timestamp: time.Now(),
			BatchError: &events.BatchError{
				Path:    b.paths[0],
				Kind:    errs.Label(err),
				Message: err.Error(),
			},
		})
		return false
	}
	infrastructure.SetSpanAttributes(loadCtx, map[string]interface{}{
		"matrix.rows":  scan.Rows,
		"matrix.cols":  scan.Cols,
		"matrix.cells": len(scan.Cells),
	})
	loadSpan.End()

	stats.Submitted = len(scan.Cells)

	fitCtx, fitSpan := r.tracer.StartItem(ctx, "fit_cells", b.channel)
	defer fitSpan.End()

	observe := func(row, col int, res domain.FitResult, err error) {
		if err != nil {
			stats.Failed++
			r.emit(events.Event{
				Type:      events.TypeBatchError,
				Token:     b.token,
				Timestamp: time.Now(),
				BatchError: &events.BatchError{
					Row:     row,
					Col:     col,
					Kind:    errs.Label(err),
					Message: err.Error(),
				},
			})
			return
		}
		stats.Succeeded++
		r.metrics.RecordFit(res.Converged)
		r.emit(events.Event{
			Type:      events.TypeFitReady,
			Token:     b.token,
			Timestamp: time.Now(),
			FitReady:  &events.FitReady{Row: row, Col: col, Result: res},
		})
	}

	maps, err := r.fitter.FitMatrix(fitCtx, scan, b.channel, observe)
	if err != nil {
		stats.Skipped = stats.Submitted - stats.Succeeded - stats.Failed
		return true
	}

	b.maps = maps
	infrastructure.AddSpanEvent(fitCtx, "fit.completed", map[string]interface{}{
		"fitted": maps.Fitted,
		"failed": len(maps.Failed),
	})
	r.logger.DebugContext(ctx, "matrix fit complete",
		slog.Int("fitted", maps.Fitted),
		slog.Int("failed", len(maps.Failed)))
	return false
}

// runRefresh re-stats the open folder, then re-parses metadata for each
// changed path so evicted entries are warm again. Vanished paths come
// back as BatchError events with kind file_vanished.
func (r *Runner) runRefresh(ctx context.Context, b *batch, stats *events.BatchStats) bool {
	changed := r.index.Refresh()
	stats.Submitted = len(changed)
	b.changed = changed
	infrastructure.AddSpanEvent(ctx, "refresh.completed", map[string]interface{}{
		"changed": len(changed),
	})

	for i, path := range changed {
		if ctx.Err() != nil {
			stats.Skipped = len(changed) - i
			return true
		}
		r.parseOne(ctx, b.token, path, stats)
	}
	return false
}

// emit delivers a progress event without ever blocking a worker: when
// the consumer has fallen more than a full buffer behind, the event is
// dropped and logged.
func (r *Runner) emit(ev events.Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("event dropped, buffer full",
			slog.String("type", string(ev.Type)),
			slog.String("token", ev.Token))
	}
}

// emitFinal delivers a BatchDone event, waiting for the consumer if it
// must. Shutdown releases the wait so Stop cannot deadlock.
func (r *Runner) emitFinal(ev events.Event) {
	select {
	case r.events <- ev:
	case <-r.shutdown:
	}
}
