package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/tempo/errors"
)

// JobTypeLabel carries the by-type breakdown on every Prometheus series.
// Plain measurements use an empty label value.
const JobTypeLabel = "job_type"

// Prometheus registers collectors lazily, one per metric name.
// "jobs/executor/tick" becomes tempo_jobs_executor_tick_total.
type Prometheus struct {
	namespace string
	reg       prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	err        error
}

// NewPrometheus records into reg. A nil reg means the default registerer.
func NewPrometheus(namespace string, reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		namespace:  namespace,
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (p *Prometheus) Inc(name, typ string) {
	if c := p.counter(name); c != nil {
		c.WithLabelValues(TypeName(typ)).Inc()
	}
}

func (p *Prometheus) Timing(name, typ string, d time.Duration) {
	if h := p.histogram(name); h != nil {
		h.WithLabelValues(TypeName(typ)).Observe(d.Seconds())
	}
}

func (p *Prometheus) Value(name, typ string, v float64) {
	if g := p.gauge(name); g != nil {
		g.WithLabelValues(TypeName(typ)).Set(v)
	}
}

// Err returns the first registration error, if any. Measurements for a
// metric that failed to register are dropped.
func (p *Prometheus) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Prometheus) counter(name string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      promName(name) + "_total",
		Help:      "Count of " + name + ".",
	}, []string{JobTypeLabel})
	c, ok := p.register(name, c).(*prometheus.CounterVec)
	if !ok {
		return nil
	}
	p.counters[name] = c
	return c
}

func (p *Prometheus) histogram(name string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      promName(name) + "_seconds",
		Help:      "Duration of " + name + ".",
		Buckets:   prometheus.DefBuckets,
	}, []string{JobTypeLabel})
	h, ok := p.register(name, h).(*prometheus.HistogramVec)
	if !ok {
		return nil
	}
	p.histograms[name] = h
	return h
}

func (p *Prometheus) gauge(name string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      promName(name),
		Help:      "Last value of " + name + ".",
	}, []string{JobTypeLabel})
	g, ok := p.register(name, g).(*prometheus.GaugeVec)
	if !ok {
		return nil
	}
	p.gauges[name] = g
	return g
}

// register adopts an existing collector when another recorder sharing the
// registerer got there first. Callers hold p.mu.
func (p *Prometheus) register(name string, c prometheus.Collector) prometheus.Collector {
	err := p.reg.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector
	}
	if p.err == nil {
		p.err = errors.Wrapf(err, "failed to register metric %s", name)
	}
	return nil
}

func promName(name string) string {
	return strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
