package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector with Prometheus instruments registered on
// reg under namespace.
type Prometheus struct {
	attempts  prometheus.Counter
	failures  prometheus.Counter
	samples   prometheus.Counter
	malformed prometheus.Counter
	dropped   prometheus.Counter
	delay     prometheus.Histogram
	phase     *prometheus.GaugeVec

	mu        sync.Mutex
	lastPhase string
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates and registers the collector. A nil reg uses the
// default registerer; an empty namespace becomes "pulse".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "pulse"
	}

	p := &Prometheus{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "connect_attempts_total",
			Help: "Connection attempts to the upstream stream.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "connect_failures_total",
			Help: "Unplanned closes and failed dials.",
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "samples_total",
			Help: "Heart-rate samples received.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "malformed_messages_total",
			Help: "Inbound messages dropped as malformed.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "dropped_events_total",
			Help: "Events not delivered to a slow surface.",
		}),
		delay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "stream", Name: "reconnect_delay_seconds",
			Help:    "Scheduled reconnect delays.",
			Buckets: []float64{1, 2, 4, 8, 16, 30},
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "phase",
			Help: "1 for the current connection phase, 0 otherwise.",
		}, []string{"phase"}),
	}

	for _, c := range []prometheus.Collector{p.attempts, p.failures, p.samples, p.malformed, p.dropped, p.delay, p.phase} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) ConnectAttempt()   { p.attempts.Inc() }
func (p *Prometheus) ConnectFailure()   { p.failures.Inc() }
func (p *Prometheus) SampleReceived()   { p.samples.Inc() }
func (p *Prometheus) MalformedMessage() { p.malformed.Inc() }
func (p *Prometheus) BusDropped()       { p.dropped.Inc() }

func (p *Prometheus) ReconnectScheduled(d time.Duration) {
	p.delay.Observe(d.Seconds())
}

func (p *Prometheus) SetPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPhase != "" && p.lastPhase != phase {
		p.phase.WithLabelValues(p.lastPhase).Set(0)
	}
	p.phase.WithLabelValues(phase).Set(1)
	p.lastPhase = phase
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
