package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atelier"

// Registry holds every collector the daemon exports. Metrics register on a
// private registry rather than prometheus.DefaultRegisterer so tests can build
// as many as they like.
type Registry struct {
	reg *prometheus.Registry

	Submissions      prometheus.Counter
	Remixes          *prometheus.CounterVec
	ItemsProcessed   *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec
	Reclaimed        *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New creates a registry with process and Go runtime collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		Submissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_submitted_total",
			Help:      "Total number of generations enqueued by batch submissions.",
		}),
		Remixes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remixes_total",
			Help:      "Total number of remix requests, partitioned by mode.",
		}, []string{"mode"}),
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_processed_total",
			Help:      "Total number of queue items finished, partitioned by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of image provider calls.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"provider", "outcome"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_items",
			Help:      "Number of queue items per status.",
		}, []string{"status"}),
		Reclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_items_reclaimed_total",
			Help:      "Stale processing items reclaimed, partitioned by resulting status.",
		}, []string{"outcome"}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests, partitioned by method, route and status code.",
		}, []string{"method", "route", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveProvider records one provider call.
func (r *Registry) ObserveProvider(provider, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.ProviderDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
}

// ObserveItem counts a finished queue item. kind is empty on success.
func (r *Registry) ObserveItem(outcome, kind string) {
	if r == nil {
		return
	}
	r.ItemsProcessed.WithLabelValues(outcome, kind).Inc()
}

// SetQueueDepth publishes the live queue counts.
func (r *Registry) SetQueueDepth(queued, processing int) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues("queued").Set(float64(queued))
	r.QueueDepth.WithLabelValues("processing").Set(float64(processing))
}

// AddSubmissions counts enqueued generations.
func (r *Registry) AddSubmissions(n int) {
	if r == nil {
		return
	}
	r.Submissions.Add(float64(n))
}

// ObserveRemix counts a remix request by mode.
func (r *Registry) ObserveRemix(mode string) {
	if r == nil {
		return
	}
	r.Remixes.WithLabelValues(mode).Inc()
}

// ObserveReclaim counts a stale item moved to outcome.
func (r *Registry) ObserveReclaim(outcome string) {
	if r == nil {
		return
	}
	r.Reclaimed.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one HTTP API request.
func (r *Registry) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
