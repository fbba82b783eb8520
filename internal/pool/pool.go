// Package pool implements the concurrent job execution loop with per-account
// serialization.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/missatjuhvdk1/snapbot/internal/autopost"
	"github.com/missatjuhvdk1/snapbot/internal/events"
	"github.com/missatjuhvdk1/snapbot/internal/metrics"
	"github.com/missatjuhvdk1/snapbot/internal/ratelimit"
)

// Config controls Pool behavior.
type Config struct {
	// MaxConcurrentJobs bounds simultaneously executing jobs.
	MaxConcurrentJobs int
	// ShutdownGrace is how long Stop waits for in-flight jobs before the
	// hard context is cancelled.
	ShutdownGrace time.Duration
	// DeferBackoff is the pause before re-enqueueing a job whose account
	// is busy or rate gated, so deferrals do not hot-spin.
	DeferBackoff time.Duration
}

// JobExecutor runs one job to a terminal state.
type JobExecutor interface {
	Execute(ctx context.Context, payload autopost.JobPayload) error
}

// Pool pulls payloads off the queue and dispatches them to workers. At most
// one job per account runs at a time; colliding jobs go back on the queue.
type Pool struct {
	cfg      Config
	queue    autopost.Queue
	executor JobExecutor
	gate     *ratelimit.AccountGate
	emitter  events.Emitter
	clock    autopost.Clock
	logger   *zap.Logger

	slots    chan struct{}
	wg       sync.WaitGroup
	inFlight inFlightSet

	stopOnce sync.Once
}

// New constructs a Pool. gate and emitter may be nil.
func New(
	cfg Config,
	queue autopost.Queue,
	executor JobExecutor,
	gate *ratelimit.AccountGate,
	emitter events.Emitter,
	clock autopost.Clock,
	logger *zap.Logger,
) *Pool {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 5
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.DeferBackoff <= 0 {
		cfg.DeferBackoff = 250 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		queue:    queue,
		executor: executor,
		gate:     gate,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxConcurrentJobs),
		inFlight: inFlightSet{ids: make(map[string]struct{})},
	}
}

// Run blocks consuming the queue until intakeCtx is cancelled, then waits for
// in-flight jobs up to the grace period before cancelling jobCtx's children.
// Use Start/Stop for the managed variant.
func (p *Pool) Run(intakeCtx, jobCtx context.Context) {
	defer p.wg.Wait()
	for {
		payload, err := p.queue.Dequeue(intakeCtx)
		if err != nil {
			if intakeCtx.Err() != nil {
				return
			}
			p.logger.Error("queue dequeue failed", zap.Error(err))
			p.emit(events.Event{Stage: events.StagePoolError, TS: p.now(), Note: err.Error()})
			continue
		}
		if !p.acquireSlot(intakeCtx) {
			// shutting down with a consumed payload in hand; the AMQP
			// backend has already acked it, so hand it back rather than
			// strand the job in PENDING with no broker copy
			p.logger.Warn("intake stopped with payload in hand, re-enqueueing",
				zap.String("job_id", payload.JobID))
			p.returnToQueue(intakeCtx, payload)
			return
		}
		if !p.dispatch(intakeCtx, jobCtx, payload) {
			p.releaseSlot()
		}
	}
}

// dispatch starts a worker for the payload unless its account is busy or
// rate gated, in which case the payload is re-enqueued after a short backoff.
func (p *Pool) dispatch(intakeCtx, jobCtx context.Context, payload autopost.JobPayload) bool {
	if !p.inFlight.tryAdd(payload.AccountID) {
		p.requeueLater(intakeCtx, payload, "account busy")
		return false
	}
	if !p.gate.Allow(payload.AccountID) {
		p.inFlight.remove(payload.AccountID)
		p.requeueLater(intakeCtx, payload, "rate gated")
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.releaseSlot()
		// the account lock is held for the executor's full lifetime,
		// bookkeeping included
		defer p.inFlight.remove(payload.AccountID)
		p.runJob(jobCtx, payload)
	}()
	return true
}

func (p *Pool) runJob(ctx context.Context, payload autopost.JobPayload) {
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	start := p.now()
	err := p.executor.Execute(ctx, payload)
	evt := events.Event{
		JobID:     payload.JobID,
		AccountID: payload.AccountID,
		TS:        p.now(),
		Dur:       p.now().Sub(start),
	}
	if err != nil {
		evt.Stage = events.StageFailed
		evt.Note = err.Error()
		metrics.ObserveJob(string(autopost.JobStatusFailed), evt.Dur)
	} else {
		evt.Stage = events.StageCompleted
		metrics.ObserveJob(string(autopost.JobStatusCompleted), evt.Dur)
	}
	p.emit(evt)
}

func (p *Pool) requeueLater(ctx context.Context, payload autopost.JobPayload, reason string) {
	metrics.ObserveDeferral()
	p.emit(events.Event{
		JobID:     payload.JobID,
		AccountID: payload.AccountID,
		TS:        p.now(),
		Stage:     events.StageDeferred,
		Note:      reason,
	})
	timer := time.NewTimer(p.cfg.DeferBackoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	p.returnToQueue(ctx, payload)
}

// returnToQueue hands a consumed payload back to the broker on a detached
// short-deadline context, so a cancelled intake context cannot strand it.
func (p *Pool) returnToQueue(ctx context.Context, payload autopost.JobPayload) {
	enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.queue.Enqueue(enqCtx, payload); err != nil {
		p.logger.Error("re-enqueue job failed",
			zap.String("job_id", payload.JobID),
			zap.Error(err))
		p.emit(events.Event{Stage: events.StagePoolError, TS: p.now(), Note: err.Error()})
	}
}

// Start launches Run on background contexts derived from ctx and returns a
// stop function implementing the two-phase shutdown: intake stops first,
// in-flight jobs get the grace period, then the hard context is cancelled so
// remaining jobs tear down with ForcedShutdownError.
func (p *Pool) Start(ctx context.Context) (stop func()) {
	intakeCtx, stopIntake := context.WithCancel(ctx)
	jobCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(intakeCtx, jobCtx)
	}()

	return func() {
		p.stopOnce.Do(func() {
			stopIntake()
			graceTimer := time.NewTimer(p.cfg.ShutdownGrace)
			defer graceTimer.Stop()
			select {
			case <-done:
			case <-graceTimer.C:
				p.logger.Warn("shutdown grace elapsed, cancelling in-flight jobs")
			}
			stopJobs()
			<-done
		})
	}
}

func (p *Pool) acquireSlot(ctx context.Context) bool {
	select {
	case p.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) releaseSlot() {
	select {
	case <-p.slots:
	default:
	}
}

func (p *Pool) emit(evt events.Event) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(evt)
}

func (p *Pool) now() time.Time {
	if p.clock == nil {
		return time.Now().UTC()
	}
	return p.clock.Now()
}

type inFlightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (s *inFlightSet) tryAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.ids[id]; busy {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *inFlightSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}
