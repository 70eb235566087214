// Package metrics exposes gateway request, fallback and node health metrics
// for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ai_gateway/internal/gateway"
	"ai_gateway/internal/gwerr"
	"ai_gateway/internal/models"
)

const namespace = "ai_gateway"

// LatencyBuckets are in seconds. Local models on modest hardware can take
// minutes for long replies, hence the long tail.
var LatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300}

// Metrics holds every collector the gateway exports.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	failedAttempts *prometheus.CounterVec
	tokens         *prometheus.CounterVec
	nodeUp         *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Generation requests by endpoint, provider and outcome",
		}, []string{"endpoint", "kind", "provider", "outcome"}),
		requestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end generation latency including fallback",
			Buckets:   LatencyBuckets,
		}, []string{"endpoint", "kind"}),
		failedAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_attempts_total",
			Help:      "Dispatches that failed and were retried or surfaced",
		}, []string{"provider"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Prompt and completion tokens, estimated when the provider does not report them",
		}, []string{"kind", "direction"}),
		nodeUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_up",
			Help:      "Whether the last health probe of a node succeeded (1) or not (0)",
		}, []string{"node_id", "name"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status",
		}, []string{"method", "pattern", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP handler latency; streams are measured to their last frame",
			Buckets:   LatencyBuckets,
		}, []string{"method", "pattern"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGauge exports a value computed at scrape time, such as a queue
// length.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Observe implements gateway.Observer.
func (m *Metrics) Observe(ctx context.Context, out gateway.Outcome) {
	kind, provider := routeLabels(out.Route)

	m.requests.WithLabelValues(out.Endpoint, kind, provider, outcomeLabel(out)).Inc()
	m.requestLatency.WithLabelValues(out.Endpoint, kind).Observe(out.Latency.Seconds())

	for _, a := range out.Attempts {
		_, p := routeLabels(a.Route)
		m.failedAttempts.WithLabelValues(p).Inc()
	}
	if out.PromptTokens > 0 {
		m.tokens.WithLabelValues(kind, "prompt").Add(float64(out.PromptTokens))
	}
	if out.CompletionTokens > 0 {
		m.tokens.WithLabelValues(kind, "completion").Add(float64(out.CompletionTokens))
	}
}

// NodeHealthChanged implements nodes.HealthListener.
func (m *Metrics) NodeHealthChanged(ctx context.Context, node models.InferenceNode) {
	id := strconv.FormatInt(node.ID, 10)
	up := 0.0
	if node.Online() {
		up = 1
	}
	m.nodeUp.WithLabelValues(id, node.Name).Set(up)
}

// NodeRemoved implements nodes.RemovalListener.
func (m *Metrics) NodeRemoved(node models.InferenceNode) {
	m.nodeUp.DeleteLabelValues(strconv.FormatInt(node.ID, 10), node.Name)
}

// ObserveHTTP records one served request. pattern is the ServeMux pattern,
// never the raw path.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, seconds float64) {
	if pattern == "" {
		pattern = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, pattern).Observe(seconds)
}

func outcomeLabel(out gateway.Outcome) string {
	switch {
	case out.Abandoned:
		return "abandoned"
	case out.Err != nil:
		return string(gwerr.KindOf(out.Err))
	default:
		return "success"
	}
}

// routeLabels maps a canonical route to kind and provider labels, e.g.
// ("self_hosted", "client:3"). Model names are not labels.
func routeLabels(route string) (kind, provider string) {
	if route == "" {
		return "none", "none"
	}
	id, err := models.ParseModelIdentifier(route)
	if err != nil {
		return "unknown", "unknown"
	}
	return id.Kind.Tag().String(), id.Kind.String()
}
