package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tempo/am"
	"github.com/teranos/tempo/pulse/job"
	"github.com/teranos/tempo/pulse/metrics"
	"github.com/teranos/tempo/pulse/schedule"
)

// Config tunes executor timing.
type Config struct {
	// ExecuteThreshold is how close a run must be to execute immediately
	// rather than arm a timer.
	ExecuteThreshold time.Duration
	// SafetyTick is the period of the background tick that covers missed
	// timers and clock jumps.
	SafetyTick time.Duration
	// RestartMinBackoff and RestartMaxBackoff bound the delay before a
	// crashed incarnation is restarted.
	RestartMinBackoff time.Duration
	RestartMaxBackoff time.Duration
	// SnapshotEvery takes a journal snapshot after this many events.
	// Zero disables snapshots.
	SnapshotEvery int64
	MailboxSize   int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ExecuteThreshold:  500 * time.Millisecond,
		SafetyTick:        time.Minute,
		RestartMinBackoff: 100 * time.Millisecond,
		RestartMaxBackoff: 30 * time.Second,
		SnapshotEvery:     50,
		MailboxSize:       64,
	}
}

// ConfigFrom reads the scheduler section of am.Config.
func ConfigFrom(s am.SchedulerConfig) Config {
	cfg := DefaultConfig()
	cfg.ExecuteThreshold = s.ExecuteThreshold()
	cfg.SafetyTick = s.SafetyTick()
	cfg.RestartMinBackoff, cfg.RestartMaxBackoff = s.RestartBackoff()
	cfg.SnapshotEvery = int64(s.SnapshotEvery)
	return cfg
}

// Deps are the collaborators every entity on a node shares.
type Deps[T any] struct {
	Registry   *job.Registry[T]
	Serializer *job.Serializer[T]
	Journal    Journal
	Metrics    metrics.Recorder
	Clock      schedule.Clock
	Logger     *zap.SugaredLogger
}

func (d Deps[T]) withDefaults() Deps[T] {
	if d.Serializer == nil {
		d.Serializer = job.NewSerializer(d.Registry)
	}
	if d.Journal == nil {
		d.Journal = NewMemoryJournal()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return d
}
