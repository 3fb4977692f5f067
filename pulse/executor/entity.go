// Package executor runs one goroutine per scheduled job.
//
// An Entity owns a single job identified by its name, a serialized
// job.Ref. It is a small state machine driven by a mailbox:
//
//	Reload ──> reloading ──> initialized ──tick──> executing ──> recording ──> Reload
//
// The entity goroutine never blocks on I/O. Repository calls and job
// execution run in their own goroutines and report back by sending a
// message, so all state changes happen on the entity's timeline.
//
// When a handler fails with anything other than job-not-found, the
// incarnation crashes and is restarted with exponential backoff. The new
// incarnation rebuilds its state from the entity name and the journal and
// reloads itself. Permanent stops always go through a passivate message.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/pulse/job"
	"github.com/teranos/tempo/pulse/metrics"
)

// Entity executes one job. Create with New, drive with Run, feed with Tell.
type Entity[T any] struct {
	name string
	deps Deps[T]
	cfg  Config
	log  *zap.SugaredLogger

	mailbox  chan Message
	internal chan Message
	done     chan struct{}
	stopOnce sync.Once
	reason   StopReason

	// state of the current incarnation, owned by the Run goroutine
	inc       int
	ref       job.Ref[T]
	cached    job.Job[T]
	jobType   string
	lastRun   *time.Time
	nextRun   *time.Time
	executing bool
	reloading bool
	timer     *time.Timer
}

// New creates an entity for the given name. It does nothing until Run.
func New[T any](name string, deps Deps[T], cfg Config) *Entity[T] {
	deps = deps.withDefaults()
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultConfig().MailboxSize
	}
	return &Entity[T]{
		name:     name,
		deps:     deps,
		cfg:      cfg,
		log:      logger.AddPulseSymbol(deps.Logger.Named("executor")).With(logger.FieldEntityID, name),
		mailbox:  make(chan Message, cfg.MailboxSize),
		internal: make(chan Message, cfg.MailboxSize),
		done:     make(chan struct{}),
	}
}

// Name returns the entity name, the serialized ref.
func (e *Entity[T]) Name() string { return e.name }

// Done is closed when the entity has stopped for good.
func (e *Entity[T]) Done() <-chan struct{} { return e.done }

// Reason returns why the entity stopped. Only valid after Done is closed.
func (e *Entity[T]) Reason() StopReason { return e.reason }

// Tell delivers msg. It returns false if the entity has stopped, in which
// case the message is dropped.
func (e *Entity[T]) Tell(msg Message) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.mailbox <- msg:
		return true
	case <-e.done:
		return false
	}
}

// Status asks the entity for a view of its state.
func (e *Entity[T]) Status(ctx context.Context) (Status, error) {
	req := statusRequest{reply: make(chan Status, 1)}
	if !e.Tell(req) {
		return Status{}, errors.Newf("executor %s has stopped", e.name)
	}
	select {
	case st := <-req.reply:
		return st, nil
	case <-e.done:
		return Status{}, errors.Newf("executor %s has stopped", e.name)
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Run supervises incarnations until the entity passivates or ctx is
// cancelled, and returns the reason it stopped.
func (e *Entity[T]) Run(ctx context.Context) StopReason {
	defer e.stop()

	backoff := e.cfg.RestartMinBackoff
	for {
		e.inc++
		reason, initialized, err := e.incarnation(ctx)
		if err == nil {
			e.reason = reason
			e.log.Infow("Executor stopped", "reason", reason, logger.FieldIncarnation, e.inc)
			return reason
		}

		if initialized {
			backoff = e.cfg.RestartMinBackoff
		}
		e.log.Errorw("Executor crashed, restarting",
			logger.FieldError, err,
			logger.FieldIncarnation, e.inc,
			logger.FieldBackoff, backoff.String(),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			e.reason = StopShutdown
			return StopShutdown
		}
		backoff *= 2
		if backoff > e.cfg.RestartMaxBackoff {
			backoff = e.cfg.RestartMaxBackoff
		}
	}
}

func (e *Entity[T]) stop() {
	e.stopOnce.Do(func() {
		close(e.done)
	})
}

// incarnation runs the mailbox loop once. A nil error means a permanent
// stop; an error means a crash. initialized reports whether the
// incarnation got as far as loading its job.
func (e *Entity[T]) incarnation(parent context.Context) (reason StopReason, initialized bool, err error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	e.reset()
	defer e.disarm()

	ref, err := e.deps.Serializer.Deserialize(e.name)
	if err != nil {
		e.log.Warnw("Cannot recover job reference from entity name", logger.FieldError, err)
		return StopBadName, false, nil
	}
	e.ref = ref

	st, err := e.deps.Journal.Load(ctx, e.name)
	if err != nil {
		return "", false, errors.Wrap(err, "failed to replay journal")
	}
	if !st.LastRun.IsZero() {
		last := st.LastRun
		e.lastRun = &last
	}

	// restarts rebuild everything from the name; the first incarnation
	// waits for the Reload that caused it to be spawned
	if e.inc > 1 {
		e.self(Reload[T]{Ref: ref})
	}

	safety := time.NewTicker(e.cfg.SafetyTick)
	defer safety.Stop()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("executor panic: %v\n%s", r, debug.Stack())
		}
	}()

	for {
		var msg Message
		select {
		case <-ctx.Done():
			return StopShutdown, e.cached != nil, nil
		case <-safety.C:
			msg = Tick{}
		case msg = <-e.internal:
		case msg = <-e.mailbox:
		}

		stop, err := e.handle(ctx, msg)
		if err != nil {
			return "", e.cached != nil, err
		}
		if stop != "" {
			e.cleanup(parent, stop)
			return stop, e.cached != nil, nil
		}
	}
}

func (e *Entity[T]) reset() {
	e.ref = job.Ref[T]{}
	e.cached = nil
	e.jobType = ""
	e.lastRun = nil
	e.nextRun = nil
	e.executing = false
	e.reloading = false
}

func (e *Entity[T]) handle(ctx context.Context, msg Message) (StopReason, error) {
	switch m := msg.(type) {
	case Reload[T]:
		return e.onReload(ctx, m), nil
	case Tick:
		e.onTick(ctx)
	case timerTick:
		if m.inc == e.inc {
			e.onTick(ctx)
		}
	case reloaded[T]:
		if m.inc == e.inc {
			return e.onReloaded(m)
		}
	case startFailed:
		if m.inc == e.inc {
			return "", errors.Wrap(m.err, "failed to record job start")
		}
	case completed[T]:
		if m.inc == e.inc {
			e.onCompleted(ctx, m)
		}
	case recorded:
		if m.inc == e.inc {
			return e.onRecorded(ctx, m)
		}
	case passivate:
		return m.reason, nil
	case statusRequest:
		m.reply <- e.status()
	default:
		e.log.Warnw("Unhandled executor message", "type", fmt.Sprintf("%T", msg))
	}
	return "", nil
}

func (e *Entity[T]) onReload(ctx context.Context, m Reload[T]) StopReason {
	e.deps.Metrics.Inc(metrics.ExecutorReload, e.jobType)

	if !m.Ref.Equal(e.ref) {
		e.log.Errorw("Reload for a different job, passivating",
			"expected", e.ref.String(),
			"received", m.Ref.String(),
			logger.FieldError, errors.ErrIdentityViolation,
		)
		e.self(passivate{reason: StopIdentity})
		return ""
	}
	if e.reloading || e.executing {
		return ""
	}

	if m.ETag != "" && e.cached != nil && e.cached.ETag() == m.ETag {
		e.onTick(ctx)
		return ""
	}

	e.reloading = true
	inc, ref, fromJournal := e.inc, e.ref, e.lastRun
	go func() {
		j, lastRun, err := e.load(ctx, ref, fromJournal)
		e.self(reloaded[T]{inc: inc, job: j, lastRun: lastRun, err: err})
	}()
	return ""
}

// load resolves the job and the scheduled time of its last completed run.
// It runs off the entity goroutine.
func (e *Entity[T]) load(ctx context.Context, ref job.Ref[T], lastRun *time.Time) (job.Job[T], *time.Time, error) {
	j, err := ref.Get(ctx, e.deps.Registry)
	if err != nil {
		return nil, nil, err
	}
	execs, err := ref.Executions(e.deps.Registry)
	if err != nil {
		return nil, nil, err
	}
	last, err := execs.GetLastCompleted(ctx, ref.JobID, ref.OrgID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get last completed execution")
	}
	if last != nil && (lastRun == nil || last.Scheduled.After(*lastRun)) {
		scheduled := last.Scheduled
		lastRun = &scheduled
	}
	return j, lastRun, nil
}

func (e *Entity[T]) onReloaded(m reloaded[T]) (StopReason, error) {
	e.reloading = false
	if m.err != nil {
		if errors.IsJobNotFound(m.err) {
			e.log.Infow("Job no longer exists, passivating", logger.FieldError, m.err)
			e.self(passivate{reason: StopNotFound})
			return "", nil
		}
		return "", errors.Wrap(m.err, "failed to reload job")
	}

	if e.cached == nil {
		e.log.Debugw("Executor initialized", logger.FieldJobID, e.ref.JobID, logger.FieldETag, m.job.ETag())
	}
	e.cached = m.job
	e.jobType = metrics.TypeOf(m.job)
	e.lastRun = m.lastRun
	// the schedule may have changed
	e.nextRun = nil
	e.self(Tick{})
	return "", nil
}

func (e *Entity[T]) onTick(ctx context.Context) {
	e.deps.Metrics.Inc(metrics.ExecutorTick, e.jobType)

	// onReloaded ticks again once the job is revalidated
	if e.cached == nil || e.executing || e.reloading {
		return
	}
	if e.nextRun == nil {
		next, ok := e.cached.Schedule().NextRun(e.lastRun)
		if !ok {
			e.log.Infow("Schedule exhausted, passivating", logger.FieldLastRun, e.lastRun)
			e.self(passivate{reason: StopExhausted})
			return
		}
		e.nextRun = &next
	}

	wait := e.nextRun.Sub(e.deps.Clock())
	if wait > e.cfg.ExecuteThreshold {
		e.arm(wait)
		return
	}
	e.execute(ctx, *e.nextRun)
}

// arm replaces the one-shot timer.
func (e *Entity[T]) arm(wait time.Duration) {
	e.disarm()
	inc := e.inc
	e.timer = time.AfterFunc(wait, func() {
		e.self(timerTick{inc: inc})
	})
}

func (e *Entity[T]) disarm() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *Entity[T]) execute(ctx context.Context, scheduled time.Time) {
	e.executing = true
	e.disarm()

	inc, ref, j, jobType := e.inc, e.ref, e.cached, e.jobType
	log := e.log.With(logger.FieldScheduled, scheduled, logger.FieldJobType, jobType)

	go func() {
		execs, err := ref.Executions(e.deps.Registry)
		if err != nil {
			e.self(startFailed{inc: inc, err: err})
			return
		}
		started := e.deps.Clock()
		if err := execs.JobStarted(ctx, ref.JobID, ref.OrgID, scheduled, started); err != nil {
			e.self(startFailed{inc: inc, err: err})
			return
		}
		e.deps.Metrics.Timing(metrics.ExecutionLag, jobType, started.Sub(scheduled))
		log.Debugw("Executing job")

		result, err := run(ctx, j, scheduled)
		e.deps.Metrics.Timing(metrics.ExecutionTime, jobType, e.deps.Clock().Sub(started))
		e.self(completed[T]{inc: inc, scheduled: scheduled, result: result, err: err})
	}()
}

// run calls Execute with the job's timeout as a deadline and turns a panic
// into an error.
func run[T any](ctx context.Context, j job.Job[T], scheduled time.Time) (result T, err error) {
	if timeout := j.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job panicked: %v", r)
		}
	}()
	return j.Execute(ctx, scheduled)
}

func (e *Entity[T]) onCompleted(ctx context.Context, m completed[T]) {
	scheduled := m.scheduled
	e.lastRun = &scheduled
	e.nextRun = nil

	success := m.err == nil
	if success {
		e.deps.Metrics.Value(metrics.ExecutionSuccess, e.jobType, 1)
	} else {
		e.deps.Metrics.Value(metrics.ExecutionSuccess, e.jobType, 0)
		e.log.Warnw("Job failed", logger.FieldScheduled, scheduled, logger.FieldError, m.err)
	}

	ev := Event{Kind: EventCompleted, Scheduled: scheduled, Success: success}
	inc, ref := e.inc, e.ref
	go func() {
		err := e.persist(ctx, ev)
		if err == nil {
			err = e.record(ctx, ref, m)
		}
		e.self(recorded{inc: inc, err: err})
	}()
}

// persist appends to the journal and snapshots every SnapshotEvery events.
func (e *Entity[T]) persist(ctx context.Context, ev Event) error {
	seq, err := e.deps.Journal.Append(ctx, e.name, ev)
	if err != nil {
		return errors.Wrap(err, "failed to append to journal")
	}
	if e.cfg.SnapshotEvery > 0 && seq%e.cfg.SnapshotEvery == 0 {
		full, err := e.deps.Journal.Load(ctx, e.name)
		if err != nil {
			return errors.Wrap(err, "failed to load journal for snapshot")
		}
		if err := e.deps.Journal.Snapshot(ctx, e.name, full); err != nil {
			return errors.Wrap(err, "failed to snapshot journal")
		}
	}
	return nil
}

func (e *Entity[T]) record(ctx context.Context, ref job.Ref[T], m completed[T]) error {
	execs, err := ref.Executions(e.deps.Registry)
	if err != nil {
		return err
	}
	now := e.deps.Clock()
	if m.err == nil {
		return execs.JobSucceeded(ctx, ref.JobID, ref.OrgID, m.scheduled, now, m.result)
	}
	return execs.JobFailed(ctx, ref.JobID, ref.OrgID, m.scheduled, now, m.err)
}

func (e *Entity[T]) onRecorded(ctx context.Context, m recorded) (StopReason, error) {
	e.executing = false
	if m.err != nil {
		if errors.IsJobNotFound(m.err) {
			e.self(passivate{reason: StopNotFound})
			return "", nil
		}
		return "", errors.Wrap(m.err, "failed to record job outcome")
	}
	// always revalidate after a run; the definition may have changed meanwhile
	return e.onReload(ctx, Reload[T]{Ref: e.ref}), nil
}

// cleanup runs on permanent stops.
func (e *Entity[T]) cleanup(ctx context.Context, reason StopReason) {
	if reason != StopNotFound {
		return
	}
	if err := e.deps.Journal.Delete(ctx, e.name); err != nil {
		e.log.Warnw("Failed to delete journal of removed job", logger.FieldError, err)
	}
}

// self enqueues a message from the entity to itself or from one of its
// goroutines, without blocking the entity loop.
func (e *Entity[T]) self(msg Message) {
	select {
	case e.internal <- msg:
		return
	default:
	}
	go func() {
		select {
		case e.internal <- msg:
		case <-e.done:
		}
	}()
}

func (e *Entity[T]) status() Status {
	st := Status{
		Incarnation: e.inc,
		Initialized: e.cached != nil,
		Reloading:   e.reloading,
		Executing:   e.executing,
	}
	if e.cached != nil {
		st.ETag = e.cached.ETag()
	}
	if e.lastRun != nil {
		last := *e.lastRun
		st.LastRun = &last
	}
	if e.nextRun != nil {
		next := *e.nextRun
		st.NextRun = &next
	}
	return st
}
