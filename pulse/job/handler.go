package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/pulse/schedule"
)

// HandlerRegistry binds handler names to functions, turning stored
// definitions into runnable jobs. Safe for concurrent use.
type HandlerRegistry[T any] struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc[T]
	clock    schedule.Clock
}

// NewHandlerRegistry creates an empty registry. clock is handed to
// clock-driven schedules; nil means time.Now.
func NewHandlerRegistry[T any](clock schedule.Clock) *HandlerRegistry[T] {
	return &HandlerRegistry[T]{
		handlers: make(map[string]HandlerFunc[T]),
		clock:    clock,
	}
}

// Register adds a handler. Panics if the name is taken.
func (r *HandlerRegistry[T]) Register(name string, fn HandlerFunc[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = fn
}

// Get returns the handler for name, or nil.
func (r *HandlerRegistry[T]) Get(name string) HandlerFunc[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

func (r *HandlerRegistry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names, sorted.
func (r *HandlerRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind builds the job a definition describes. A definition whose handler
// is not registered still binds; executing it fails, so the gap shows up
// as recorded failures rather than a job that silently never runs.
func (r *HandlerRegistry[T]) Bind(def Definition) (Job[T], error) {
	sched, err := def.Schedule.Build(r.clock)
	if err != nil {
		return nil, errors.Wrapf(err, "job %s", def.ID)
	}
	return &definedJob[T]{def: def, schedule: sched, handler: r.Get(def.Handler)}, nil
}
