// Package worker runs deferred alt text jobs from the queue.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/soypete/alttext/pkg/alttext"
	"github.com/soypete/alttext/pkg/jobs"
	"github.com/soypete/alttext/pkg/metrics"
	"github.com/soypete/alttext/pkg/storage"
)

const (
	DefaultPollInterval = 2 * time.Second

	// KindAssetNotFound marks jobs whose asset was deleted after queueing.
	KindAssetNotFound = "asset_not_found"
	// KindInternal marks failures outside the describe pipeline, such as a
	// database error while loading the asset.
	KindInternal = "internal"
)

// Executor generates and saves alt text for one job payload.
// *alttext.Service satisfies it.
type Executor interface {
	Execute(ctx context.Context, payload jobs.Payload) (string, error)
}

// Config configures a Worker.
type Config struct {
	Concurrency       int
	RequestsPerMinute int // zero or negative disables pacing
	PollInterval      time.Duration
	Model             string // recorded on completed jobs
}

// Worker claims jobs and runs them through an Executor.
type Worker struct {
	runner  jobs.Runner
	exec    Executor
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a worker.
func New(runner jobs.Runner, exec Executor, cfg Config, logger zerolog.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	w := &Worker{
		runner: runner,
		exec:   exec,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.RequestsPerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.Concurrency)
	}
	return w
}

// Run polls the queue until ctx is cancelled. Claim errors are logged and
// retried after the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Int("concurrency", w.cfg.Concurrency).
		Int("requests_per_minute", w.cfg.RequestsPerMinute).
		Msg("worker: started")

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(w.cfg.Concurrency)

	for egCtx.Err() == nil {
		eg.Go(func() error {
			claimed, err := w.step(egCtx)
			if err != nil && egCtx.Err() == nil {
				w.logger.Error().Err(err).Msg("worker: failed to claim job")
			}
			if !claimed {
				sleep(egCtx, w.cfg.PollInterval)
			}
			return nil
		})
	}

	_ = eg.Wait()
	w.logger.Info().Msg("worker: stopped")
	return ctx.Err()
}

// RunOnce processes jobs until the queue has nothing pending and returns how
// many it ran. A claim error stops the drain.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	var processed atomic.Int64
	var drained atomic.Bool

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(w.cfg.Concurrency)

	for egCtx.Err() == nil && !drained.Load() {
		eg.Go(func() error {
			claimed, err := w.step(egCtx)
			if err != nil {
				return err
			}
			if claimed {
				processed.Add(1)
			} else {
				drained.Store(true)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return int(processed.Load()), err
	}
	return int(processed.Load()), ctx.Err()
}

// step claims and processes at most one job.
func (w *Worker) step(ctx context.Context) (bool, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return false, nil
		}
	}
	job, err := w.runner.Claim(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *jobs.Job) {
	log := w.logger.With().
		Str("job_id", job.ID).
		Int64("asset_id", job.Payload.AssetID).
		Int64("site_id", job.Payload.SiteID).
		Logger()
	log.Debug().Int("attempt", job.Attempts).Msg("worker: picked job")

	start := time.Now()
	text, err := w.exec.Execute(ctx, job.Payload)

	// The outcome is recorded even when shutdown cancelled the work itself.
	writeCtx := context.WithoutCancel(ctx)

	if err != nil {
		failure := FailureFor(err)
		if ferr := w.runner.Fail(writeCtx, job.ID, failure); ferr != nil {
			log.Error().Err(ferr).Msg("worker: failed to record job failure")
		}
		metrics.JobsProcessedTotal.WithLabelValues(string(jobs.StatusFailed)).Inc()
		log.Warn().
			Err(err).
			Str("error_kind", failure.Kind).
			Bool("retryable", failure.Retryable).
			Dur("elapsed", time.Since(start)).
			Msg("worker: job failed")
		return
	}

	if cerr := w.runner.Complete(writeCtx, job.ID, jobs.Output{AltText: text, Model: w.cfg.Model}); cerr != nil {
		log.Error().Err(cerr).Msg("worker: failed to record job completion")
		return
	}
	metrics.JobsProcessedTotal.WithLabelValues(string(jobs.StatusCompleted)).Inc()
	log.Info().Dur("elapsed", time.Since(start)).Msg("worker: job completed")
}

// FailureFor builds the completion record for a failed job.
func FailureFor(err error) jobs.Failure {
	var de *alttext.DescribeError
	switch {
	case errors.As(err, &de):
		return jobs.Failure{Message: de.Error(), Kind: string(de.Kind), Retryable: de.Retryable()}
	case errors.Is(err, storage.ErrNotFound):
		return jobs.Failure{Message: err.Error(), Kind: KindAssetNotFound}
	default:
		return jobs.Failure{Message: err.Error(), Kind: KindInternal, Retryable: true}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
