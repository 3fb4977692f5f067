// Package metrics records executor and coordinator measurements under
// slash-separated names such as "jobs/executor/tick".
//
// Every measurement is recorded twice: under its plain name and under a
// per-type breakdown, "jobs/executor/by_type/report_job/tick". Backends
// decide how the breakdown is represented; Prometheus folds it into a
// job_type label.
package metrics

import (
	"reflect"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
)

// Executor metric names.
const (
	ExecutorTick     = "jobs/executor/tick"
	ExecutorReload   = "jobs/executor/reload"
	ExecutionLag     = "jobs/executor/execution_lag"
	ExecutionTime    = "jobs/executor/execution_time"
	ExecutionSuccess = "jobs/executor/execution_success"
)

// Coordinator metric names. The by-type breakdown is keyed by repository
// type rather than job type.
const (
	AntiEntropyLatency  = "jobs/coordinator/anti_entropy/latency"
	AntiEntropySuccess  = "jobs/coordinator/anti_entropy/success"
	AntiEntropyJobCount = "jobs/coordinator/anti_entropy/job_count"
)

// Recorder receives measurements. typ may be empty, in which case only the
// plain name is recorded.
type Recorder interface {
	// Inc increments a counter.
	Inc(name, typ string)
	// Timing records a duration.
	Timing(name, typ string, d time.Duration)
	// Value sets a gauge to v.
	Value(name, typ string, v float64)
}

// ByType returns the breakdown name for typ:
// ByType("jobs/executor/tick", "ReportJob") is
// "jobs/executor/by_type/report_job/tick".
func ByType(name, typ string) string {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return "by_type/" + TypeName(typ) + "/" + name
	}
	return name[:i] + "/by_type/" + TypeName(typ) + name[i:]
}

// TypeName normalizes a type name to lower snake case.
func TypeName(typ string) string {
	return strcase.ToSnake(typ)
}

// Typed is implemented by jobs that name their own type.
type Typed interface {
	Type() string
}

// TypeOf returns the lower-snake type name of v: its Type() if it has one,
// otherwise its Go type name with pointers stripped.
func TypeOf(v interface{}) string {
	if t, ok := v.(Typed); ok && t.Type() != "" {
		return TypeName(t.Type())
	}
	rt := reflect.TypeOf(v)
	if rt == nil {
		return ""
	}
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	name := rt.Name()
	// generic instantiations carry their type arguments in brackets
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return TypeName(name)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Inc(string, string)                   {}
func (Nop) Timing(string, string, time.Duration) {}
func (Nop) Value(string, string, float64)        {}
