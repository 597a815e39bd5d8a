package metrics

import (
	"net/http"

	"github.com/park285/tarik-tambang-server/internal/room"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tarik"

// Metrics holds the coordinator collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RoomsCreated    prometheus.Counter
	Joins           *prometheus.CounterVec
	Answers         *prometheus.CounterVec
	MatchesStarted  prometheus.Counter
	MatchesFinished *prometheus.CounterVec
	Subscribers     prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rooms_created_total", Help: "Rooms created.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "room_joins_total", Help: "Join attempts by outcome.",
		}, []string{"outcome"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "answers_total", Help: "Checked answers by outcome.",
		}, []string{"outcome"}),
		MatchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_started_total", Help: "Matches moved to playing.",
		}),
		MatchesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_finished_total", Help: "Matches finished by winning seat.",
		}, []string{"seat"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "stream_subscribers", Help: "Open websocket change streams.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_seconds", Help: "HTTP latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RoomsCreated, m.Joins, m.Answers, m.MatchesStarted, m.MatchesFinished,
		m.Subscribers, m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Registry exposes the registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MatchStarted(string) { m.MatchesStarted.Inc() }

func (m *Metrics) AnswerChecked(correct bool) {
	if correct {
		m.Answers.WithLabelValues("correct").Inc()
		return
	}
	m.Answers.WithLabelValues("wrong").Inc()
}

func (m *Metrics) MatchFinished(_ string, winner room.Seat) {
	m.MatchesFinished.WithLabelValues(string(winner)).Inc()
}
