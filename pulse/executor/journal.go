package executor

import (
	"context"
	"sync"
	"time"
)

// EventKind names a journal event.
type EventKind string

const EventCompleted EventKind = "completed"

// Event is one entry in an executor's journal.
type Event struct {
	Kind      EventKind `msgpack:"kind"`
	Scheduled time.Time `msgpack:"scheduled"`
	Success   bool      `msgpack:"success"`
}

// State is what an executor rebuilds from its journal on restart.
type State struct {
	// Seq is the sequence number of the last event applied.
	Seq       int64     `msgpack:"seq"`
	LastRun   time.Time `msgpack:"last_run"`
	Completed int64     `msgpack:"completed"`
	Failed    int64     `msgpack:"failed"`
}

// Apply folds ev into s. LastRun never moves backwards.
func (s State) Apply(seq int64, ev Event) State {
	s.Seq = seq
	if ev.Kind != EventCompleted {
		return s
	}
	s.Completed++
	if !ev.Success {
		s.Failed++
	}
	if ev.Scheduled.After(s.LastRun) {
		s.LastRun = ev.Scheduled
	}
	return s
}

// Journal is an append-only event log per entity with periodic snapshots.
type Journal interface {
	// Append stores ev and returns its sequence number, starting at 1.
	Append(ctx context.Context, entityID string, ev Event) (int64, error)
	// Snapshot stores st, after which events up to st.Seq may be dropped.
	Snapshot(ctx context.Context, entityID string, st State) error
	// Load returns the latest snapshot with every later event applied.
	Load(ctx context.Context, entityID string) (State, error)
	// Delete forgets the entity.
	Delete(ctx context.Context, entityID string) error
}

type memoryEntry struct {
	snapshot State
	events   []Event
	// seq of events[0]
	base int64
}

// MemoryJournal keeps journals in process memory.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]*memoryEntry)}
}

func (j *MemoryJournal) entry(id string) *memoryEntry {
	e, ok := j.entries[id]
	if !ok {
		e = &memoryEntry{base: 1}
		j.entries[id] = e
	}
	return e
}

func (j *MemoryJournal) Append(_ context.Context, entityID string, ev Event) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := j.entry(entityID)
	e.events = append(e.events, ev)
	return e.base + int64(len(e.events)) - 1, nil
}

func (j *MemoryJournal) Snapshot(_ context.Context, entityID string, st State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := j.entry(entityID)
	drop := st.Seq - e.base + 1
	if drop > int64(len(e.events)) {
		drop = int64(len(e.events))
	}
	if drop > 0 {
		e.events = e.events[drop:]
		e.base += drop
	}
	e.snapshot = st
	return nil
}

func (j *MemoryJournal) Load(_ context.Context, entityID string) (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[entityID]
	if !ok {
		return State{}, nil
	}
	st := e.snapshot
	for i, ev := range e.events {
		st = st.Apply(e.base+int64(i), ev)
	}
	return st, nil
}

func (j *MemoryJournal) Delete(_ context.Context, entityID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, entityID)
	return nil
}

// Events returns the number of unsnapshotted events held for an entity.
func (j *MemoryJournal) Events(entityID string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if e, ok := j.entries[entityID]; ok {
		return len(e.events)
	}
	return 0
}
