package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Connections       prometheus.Gauge
	RoomsLoaded       prometheus.Gauge
	Requests          *prometheus.CounterVec
	Responses         *prometheus.CounterVec
	MessagesPublished prometheus.Counter
	RemoteMessages    prometheus.Counter
	TokensIssued      prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
}

// NewMetrics registers the chat service collectors on a private registry so
// that several servers can live in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatservice_connections",
			Help: "Open client connections",
		}),
		RoomsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatservice_rooms_loaded",
			Help: "Channels currently loaded in memory",
		}),
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatservice_requests_total",
			Help: "Client requests by type",
		}, []string{"type"}),
		Responses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatservice_responses_total",
			Help: "Responses sent to clients by response code",
		}, []string{"code"}),
		MessagesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatservice_messages_published_total",
			Help: "Messages stored and broadcast by this instance",
		}),
		RemoteMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatservice_remote_messages_total",
			Help: "Messages received from other instances",
		}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatservice_tokens_issued_total",
			Help: "Access tokens issued",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatservice_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"handler"}),
	}
}

func (m *Metrics) response(code int) {
	m.Responses.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument times h under the given handler label.
func (m *Metrics) instrument(name string, h http.HandlerFunc) http.Handler {
	return promhttp.InstrumentHandlerDuration(m.RequestDuration.MustCurryWith(prometheus.Labels{"handler": name}), h)
}
