// Package coordinator runs the anti-entropy sweep: it periodically walks
// every job in a repository and sends each one a Reload through the
// cluster. Executors that already hold the current version answer from
// cache; missing executors get spawned; changed jobs get reloaded.
//
// The sweep never detects deletions. A deleted job's executor finds out on
// its next reload.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
	"github.com/teranos/tempo/pulse/executor"
	"github.com/teranos/tempo/pulse/job"
	"github.com/teranos/tempo/pulse/metrics"
)

// ErrSweepInProgress is returned by Sweep while another sweep runs.
var ErrSweepInProgress = errors.New("anti-entropy sweep already running")

// Router delivers a Reload to wherever the job's executor lives.
type Router[T any] interface {
	Tell(ctx context.Context, msg executor.Reload[T]) error
}

// Config selects the repository pair to sweep and paces the sweep.
type Config struct {
	RepositoryType          string
	ExecutionRepositoryType string
	// Interval between sweeps. Zero disables periodic sweeps; the startup
	// sweep and Trigger still run.
	Interval time.Duration
	PageSize int
	// ReloadsPerSecond caps the fan-out. Zero means unlimited.
	ReloadsPerSecond float64
}

// DefaultConfig sweeps the sqlite repositories hourly.
func DefaultConfig() Config {
	return Config{
		RepositoryType:          "sqlite",
		ExecutionRepositoryType: "sqlite",
		Interval:                time.Duration(am.DefaultAntiEntropyIntervalSeconds) * time.Second,
		PageSize:                am.DefaultPageSize,
	}
}

// ConfigFrom reads the scheduler section of am.Config.
func ConfigFrom(s am.SchedulerConfig) Config {
	return Config{
		RepositoryType:          s.RepositoryType,
		ExecutionRepositoryType: s.ExecutionRepositoryType,
		Interval:                s.AntiEntropyInterval(),
		PageSize:                s.PageSize,
		ReloadsPerSecond:        s.ReloadsPerSecond,
	}
}

// Result summarizes one sweep.
type Result struct {
	Organizations int
	Jobs          int
	// Undelivered counts Reloads the router refused, e.g. a lease held
	// during handover. The next sweep retries them.
	Undelivered int
	Duration    time.Duration
}

// Coordinator sweeps one (repository, execution repository) pair.
type Coordinator[T any] struct {
	cfg      Config
	registry *job.Registry[T]
	orgs     job.OrganizationRepository
	router   Router[T]
	metrics  metrics.Recorder
	limiter  *rate.Limiter
	now      func() time.Time
	log      *zap.SugaredLogger

	running atomic.Bool
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	last   Result
	lastAt time.Time
	sweeps int64
	fails  int64
}

// New creates a coordinator. orgs may be nil when the job repository
// itself lists organizations.
func New[T any](cfg Config, registry *job.Registry[T], orgs job.OrganizationRepository, router Router[T], rec metrics.Recorder, log *zap.SugaredLogger) *Coordinator[T] {
	return NewWithContext(context.Background(), cfg, registry, orgs, router, rec, log)
}

// NewWithContext creates a coordinator whose loop also ends with ctx.
func NewWithContext[T any](ctx context.Context, cfg Config, registry *job.Registry[T], orgs job.OrganizationRepository, router Router[T], rec metrics.Recorder, log *zap.SugaredLogger) *Coordinator[T] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = am.DefaultPageSize
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	var limiter *rate.Limiter
	if cfg.ReloadsPerSecond > 0 {
		burst := int(cfg.ReloadsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ReloadsPerSecond), burst)
	}

	log = logger.AddSweepSymbol(log.Named("coordinator")).With(logger.FieldRepositoryType, cfg.RepositoryType)

	cctx, cancel := context.WithCancel(ctx)
	return &Coordinator[T]{
		cfg:      cfg,
		registry: registry,
		orgs:     orgs,
		router:   router,
		metrics:  rec,
		limiter:  limiter,
		now:      time.Now,
		log:      log,
		trigger:  make(chan struct{}, 1),
		ctx:      cctx,
		cancel:   cancel,
	}
}

// Start sweeps once immediately, then every Interval.
func (c *Coordinator[T]) Start() {
	c.wg.Add(1)
	go c.run()
	c.log.Infow("Anti-entropy coordinator started", "interval", c.cfg.Interval)
}

// Stop ends the loop and waits for a running sweep to finish.
func (c *Coordinator[T]) Stop() {
	c.cancel()
	c.wg.Wait()
	c.log.Infow("Anti-entropy coordinator stopped")
}

// Trigger requests a sweep as soon as possible. Requests made while one
// is pending collapse into it.
func (c *Coordinator[T]) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

func (c *Coordinator[T]) run() {
	defer c.wg.Done()

	c.sweepAndLog()

	var tick <-chan time.Time
	if c.cfg.Interval > 0 {
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-tick:
			c.sweepAndLog()
		case <-c.trigger:
			c.sweepAndLog()
		}
	}
}

func (c *Coordinator[T]) sweepAndLog() {
	if _, err := c.Sweep(c.ctx); err != nil && !errors.Is(err, ErrSweepInProgress) && c.ctx.Err() == nil {
		// the next tick retries
		c.log.Warnw("Anti-entropy sweep failed", logger.FieldError, err)
	}
}

// Sweep sends a Reload carrying its ETag to every job of every
// organization. Router errors are counted, not returned; repository
// errors abort the sweep.
func (c *Coordinator[T]) Sweep(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.log.Debugw("Skipping sweep, previous one still running")
		return Result{}, ErrSweepInProgress
	}
	defer c.running.Store(false)

	start := c.now()
	res, err := c.sweep(ctx)
	res.Duration = c.now().Sub(start)

	typ := c.cfg.RepositoryType
	c.metrics.Timing(metrics.AntiEntropyLatency, typ, res.Duration)
	if err != nil {
		c.metrics.Value(metrics.AntiEntropySuccess, typ, 0)
	} else {
		c.metrics.Value(metrics.AntiEntropySuccess, typ, 1)
		c.metrics.Value(metrics.AntiEntropyJobCount, typ, float64(res.Jobs))
	}

	c.mu.Lock()
	c.sweeps++
	if err != nil {
		c.fails++
	} else {
		c.last = res
		c.lastAt = start
	}
	c.mu.Unlock()

	if err != nil {
		return res, err
	}
	c.log.Infow("Anti-entropy sweep complete",
		logger.FieldCount, res.Jobs,
		"organizations", res.Organizations,
		"undelivered", res.Undelivered,
		logger.FieldDurationMS, res.Duration.Milliseconds(),
	)
	return res, nil
}

func (c *Coordinator[T]) sweep(ctx context.Context) (Result, error) {
	var res Result

	repo, err := c.registry.Repository(c.cfg.RepositoryType)
	if err != nil {
		return res, err
	}
	orgs := c.orgs
	if orgs == nil {
		var ok bool
		if orgs, ok = repo.(job.OrganizationRepository); !ok {
			return res, errors.Newf("repository %q cannot list organizations", c.cfg.RepositoryType)
		}
	}

	list, err := orgs.ListOrganizations(ctx)
	if err != nil {
		return res, errors.Wrap(err, "failed to list organizations")
	}
	res.Organizations = len(list)

	for _, org := range list {
		for offset := 0; ; {
			page, err := repo.QueryJobs(ctx, org.ID, c.cfg.PageSize, offset)
			if err != nil {
				return res, errors.Wrapf(err, "failed to query jobs of %s at offset %d", org.ID, offset)
			}
			for _, j := range page {
				if err := c.reload(ctx, org, j); err != nil {
					if ctx.Err() != nil {
						return res, ctx.Err()
					}
					res.Undelivered++
				}
				res.Jobs++
			}
			if len(page) < c.cfg.PageSize {
				break
			}
			offset += len(page)
		}
	}
	return res, nil
}

func (c *Coordinator[T]) reload(ctx context.Context, org job.Organization, j job.Job[T]) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	ref := job.NewRef[T](c.cfg.RepositoryType, c.cfg.ExecutionRepositoryType, org.ID, j.ID())
	err := c.router.Tell(ctx, executor.Reload[T]{Ref: ref, ETag: j.ETag()})
	if err != nil {
		c.log.Debugw("Reload not delivered",
			logger.FieldOrgID, org.ID,
			logger.FieldJobID, j.ID(),
			logger.FieldError, err,
		)
	}
	return err
}

// Stats is a snapshot of coordinator activity.
type Stats struct {
	Sweeps    int64
	Failures  int64
	LastSweep time.Time
	Last      Result
	Running   bool
}

// GetStats returns coordinator statistics
func (c *Coordinator[T]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Sweeps:    c.sweeps,
		Failures:  c.fails,
		LastSweep: c.lastAt,
		Last:      c.last,
		Running:   c.running.Load(),
	}
}
