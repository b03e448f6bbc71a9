package runner

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/source"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	defaultReconnectDelay   = 5 * time.Second
	defaultReconcileTimeout = 2 * time.Minute
)

// Sweeper purges expired bookkeeping, run after every full reconciliation
type Sweeper interface {
	Sweep() (int, error)
}

// Options configures a Runner
type Options struct {
	// Resync schedules full reconciliations while connected
	Resync cron.Schedule
	// ReconnectDelay is the fixed pause between connection attempts
	ReconnectDelay time.Duration
	// Concurrency bounds reconciles of distinct ids during a full reconciliation
	Concurrency int
	// ReconcileTimeout bounds a single reconcile call
	ReconcileTimeout time.Duration
	Sweeper          Sweeper
}

// Runner drives one executor from one source of desired state
type Runner struct {
	exec    executor.Executor
	source  source.Source
	opts    Options
	retries *scheduler.RetryList
	alarm   *scheduler.Alarm
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates a runner. It does nothing until Run is called.
func New(exec executor.Executor, src source.Source, opts Options) *Runner {
	if opts.Resync == nil {
		opts.Resync = cron.Every(time.Minute)
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = defaultReconcileTimeout
	}

	return &Runner{
		exec:    exec,
		source:  src,
		opts:    opts,
		retries: scheduler.NewRetryList(),
		alarm:   scheduler.NewAlarm(),
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectDelay), 1),
		now:     time.Now,
		logger:  log.WithComponent("runner").With().Str("kind", exec.Kind()).Logger(),
	}
}

// received is one result of Stream.Recv handed to the loop
type received struct {
	ev  types.DesiredStateEvent
	err error
}

// Run connects to the source and reconciles until ctx is cancelled. A lost
// connection is reopened after ReconnectDelay and followed by a full
// reconciliation. Run returns nil after a shutdown; the reconcile in flight
// when ctx is cancelled runs to completion first.
func (r *Runner) Run(ctx context.Context) error {
	metrics.RegisterComponent("source", false, "connecting")
	r.logger.Info().Str("source", r.source.Name()).Msg("Runner started")

	for {
		if err := r.limiter.Wait(ctx); err != nil {
			break
		}

		stream, err := r.source.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.SourceReconnectsTotal.Inc()
			metrics.UpdateComponent("source", false, err.Error())
			r.logger.Warn().Err(err).Dur("retry_in", r.opts.ReconnectDelay).Msg("Failed to connect to source")
			continue
		}
		metrics.UpdateComponent("source", true, "connected")
		r.logger.Info().Str("source", r.source.Name()).Msg("Connected to source")

		err = r.serve(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			break
		}

		metrics.SourceReconnectsTotal.Inc()
		metrics.UpdateComponent("source", false, "disconnected")
		// spend the token earned while connected so the next attempt waits a full delay
		r.limiter.Allow()
		if errors.Is(err, io.EOF) {
			r.logger.Warn().Dur("retry_in", r.opts.ReconnectDelay).Msg("Source closed the stream")
		} else {
			r.logger.Warn().Err(err).Dur("retry_in", r.opts.ReconnectDelay).Msg("Source stream failed")
		}
	}

	r.alarm.Disarm()
	r.logger.Info().Msg("Runner stopped")
	return nil
}

// serve runs one connection epoch: a full reconciliation, then the merge loop
// until the stream ends or ctx is cancelled
func (r *Runner) serve(ctx context.Context, stream source.Stream) error {
	messages := make(chan received)
	done := make(chan struct{})
	defer close(done)
	go pump(stream, messages, done)

	r.clearRetries()
	r.fullReconcile(ctx)

	resync := time.NewTimer(r.untilNextResync())
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-messages:
			if msg.err != nil {
				return msg.err
			}
			r.handleEvent(ctx, msg.ev)

		case <-resync.C:
			r.clearRetries()
			r.fullReconcile(ctx)
			resync.Reset(r.untilNextResync())

		case <-r.alarm.C():
			r.alarm.Fired()
			r.retryDue(ctx)
		}
	}
}

// pump forwards stream results to the loop until the stream fails or the
// loop stops listening
func pump(stream source.Stream, out chan<- received, done <-chan struct{}) {
	for {
		ev, err := stream.Recv()
		select {
		case out <- received{ev: ev, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (r *Runner) untilNextResync() time.Duration {
	now := r.now()
	d := r.opts.Resync.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (r *Runner) handleEvent(ctx context.Context, ev types.DesiredStateEvent) {
	metrics.SourceEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	r.logger.Debug().
		Str("event", string(ev.Type)).
		Str("resource_id", ev.ResourceID.String()).
		Msg("Handling desired-state event")

	// a fresh event supersedes any retry still pending for the resource
	r.retries.Remove(ev.ResourceID)
	r.reconcile(ctx, ev.ResourceID)
}

// retryDue reconciles the earliest pending retry if it is due
func (r *Runner) retryDue(ctx context.Context) {
	entry, ok := r.retries.Earliest()
	if !ok {
		r.syncRetries()
		return
	}
	if entry.ResolveAt.After(r.now()) {
		r.syncRetries()
		return
	}

	r.retries.Remove(entry.ResourceID)
	r.logger.Debug().Str("resource_id", entry.ResourceID.String()).Msg("Retrying reconcile")
	r.reconcile(ctx, entry.ResourceID)
}

func (r *Runner) reconcile(ctx context.Context, id types.ResourceID) {
	if ctx.Err() != nil {
		return
	}
	work, cancel := executor.Detach(ctx, r.opts.ReconcileTimeout)
	defer cancel()

	r.apply(id, executor.Reconcile(work, r.exec, id))
}

// fullReconcile reconciles every owned resource. Distinct ids run in
// parallel, bounded by Concurrency.
func (r *Runner) fullReconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.FullReconciliationDuration)
		metrics.FullReconciliationsTotal.Inc()
	}()
	list, cancel := executor.Detach(ctx, r.opts.ReconcileTimeout)
	ids, err := r.exec.ListOwnedResourceIDs(list)
	cancel()
	if err != nil {
		metrics.UpdateComponent("orchestrator", false, err.Error())
		r.logger.Error().Err(err).Msg("Failed to list owned resources")
		r.syncRetries()
		return
	}
	metrics.UpdateComponent("orchestrator", true, "")

	r.logger.Info().Int("resources", len(ids)).Msg("Running full reconciliation")
	for _, res := range executor.ReconcileAll(ctx, r.exec, ids, r.opts.Concurrency, r.opts.ReconcileTimeout) {
		r.apply(res.ResourceID, res.Outcome)
	}

	if r.opts.Sweeper != nil && ctx.Err() == nil {
		if n, err := r.opts.Sweeper.Sweep(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to sweep expired routes")
		} else if n > 0 {
			r.logger.Info().Int("removed", n).Msg("Swept expired routes")
		}
	}
}

// apply records what the executor asked for and re-arms the retry alarm
func (r *Runner) apply(id types.ResourceID, outcome types.Outcome) {
	logger := log.ForResource(r.logger, id)

	switch outcome.Kind {
	case types.OutcomeConverged:
		r.retries.Remove(id)
		logger.Debug().Msg("Converged")
	case types.OutcomeRetryAfter:
		entry := r.retries.Schedule(id, r.now().Add(outcome.After))
		logger.Warn().
			Str("reason", outcome.Reason).
			Time("retry_at", entry.ResolveAt).
			Msg("Reconcile incomplete, retry scheduled")
	case types.OutcomeFatal:
		r.retries.Remove(id)
		logger.Error().Str("reason", outcome.Reason).Msg("Reconcile failed permanently")
	default:
		logger.Error().Str("outcome", outcome.Kind.String()).Msg("Unknown reconcile outcome")
	}

	r.syncRetries()
}

// clearRetries drops retries from an earlier pass; the full reconciliation
// that follows re-schedules whatever still needs one
func (r *Runner) clearRetries() {
	r.retries.Clear()
	r.syncRetries()
}

func (r *Runner) syncRetries() {
	metrics.PendingRetries.Set(float64(r.retries.Len()))
	r.alarm.Sync(r.retries)
}
