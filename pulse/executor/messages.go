package executor

import (
	"time"

	"github.com/teranos/tempo/pulse/job"
)

// Message is anything an entity's mailbox accepts from outside.
type Message interface {
	message()
}

// Reload asks the executor to (re)validate its job. ETag is the version
// the sender saw; an executor already holding that version skips the
// repository read.
type Reload[T any] struct {
	Ref  job.Ref[T]
	ETag string
}

// Tick asks the executor to check whether its next run is due.
type Tick struct{}

func (Reload[T]) message() {}
func (Tick) message()      {}

// StopReason says why an entity stopped.
type StopReason string

const (
	// StopBadName: the entity name is not a valid ref.
	StopBadName StopReason = "bad_name"
	// StopIdentity: a reload named a different job.
	StopIdentity StopReason = "identity_violation"
	// StopNotFound: the job was deleted.
	StopNotFound StopReason = "job_not_found"
	// StopExhausted: the schedule has no more runs.
	StopExhausted StopReason = "schedule_exhausted"
	// StopShutdown: the host stopped the entity.
	StopShutdown StopReason = "shutdown"
)

// Status is a point-in-time view of an entity's state.
type Status struct {
	Incarnation int
	Initialized bool
	Reloading   bool
	Executing   bool
	ETag        string
	LastRun     *time.Time
	NextRun     *time.Time
}

// internal messages carry the incarnation that produced them so results
// of a crashed incarnation's I/O are dropped by its successor.

type reloaded[T any] struct {
	inc     int
	job     job.Job[T]
	lastRun *time.Time
	err     error
}

type startFailed struct {
	inc int
	err error
}

type completed[T any] struct {
	inc       int
	scheduled time.Time
	result    T
	err       error
}

type recorded struct {
	inc int
	err error
}

type timerTick struct {
	inc int
}

type passivate struct {
	reason StopReason
}

type statusRequest struct {
	reply chan Status
}

func (reloaded[T]) message()   {}
func (startFailed) message()   {}
func (completed[T]) message()  {}
func (recorded) message()      {}
func (timerTick) message()     {}
func (passivate) message()     {}
func (statusRequest) message() {}
