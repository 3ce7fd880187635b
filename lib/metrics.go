package lib

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the engine in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
type Metrics struct {
	server *http.Server  // the http prometheus server
	config MetricsConfig // the configuration
	log    LoggerI       // the logger

	BFTMetrics      // agreement telemetry
	RecoveryMetrics // crash-recovery log telemetry
}

// BFTMetrics represents the telemetry for the agreement state machine and engine
type BFTMetrics struct {
	Height          prometheus.Gauge       // what height is being decided?
	Round           prometheus.Gauge       // what round of that height?
	RoundChanges    *prometheus.CounterVec // how often did a round fail, and why?
	Commits         prometheus.Counter     // how many heights were decided?
	CommitLatency   prometheus.Histogram   // how long did a height take to decide?
	ProposerCount   prometheus.Counter     // how many times did this node propose?
	Equivocations   *prometheus.CounterVec // how many equivocations were observed, by kind?
	DroppedMessages *prometheus.CounterVec // how many inbound messages were dropped, by reason?
}

// RecoveryMetrics represents the telemetry for the crash-recovery log
type RecoveryMetrics struct {
	RecordsAppended prometheus.Counter   // how many records were appended?
	AppendLatency   prometheus.Histogram // how long does a durable append take?
}

// NewMetricsServer() creates a new telemetry server; collectors are registered with reg and everything gatherer
// collects is served on the configured address when the server is enabled
func NewMetricsServer(config MetricsConfig, reg prometheus.Registerer, gatherer prometheus.Gatherer, log LoggerI) *Metrics {
	return newMetrics(config, reg, gatherer, log)
}

// NewMetrics() creates collectors registered with reg without a server; used when many engines share a process
// and registry, each wrapping reg with its own constant labels
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return newMetrics(MetricsConfig{}, reg, nil, NewNullLogger())
}

func newMetrics(config MetricsConfig, reg prometheus.Registerer, gatherer prometheus.Gatherer, log LoggerI) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		config: config,
		log:    log,
		BFTMetrics: BFTMetrics{
			Height: factory.NewGauge(prometheus.GaugeOpts{
				Name: "accord_bft_height",
				Help: "Height currently being decided",
			}),
			Round: factory.NewGauge(prometheus.GaugeOpts{
				Name: "accord_bft_round",
				Help: "Round of the height currently being decided",
			}),
			RoundChanges: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "accord_bft_round_changes",
				Help: "Number of round changes by reason",
			}, []string{"reason"}),
			Commits: factory.NewCounter(prometheus.CounterOpts{
				Name: "accord_bft_commits",
				Help: "Number of decided heights",
			}),
			CommitLatency: factory.NewHistogram(prometheus.HistogramOpts{
				Name:    "accord_bft_commit_latency_seconds",
				Help:    "Time from entering a height to deciding it",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			}),
			ProposerCount: factory.NewCounter(prometheus.CounterOpts{
				Name: "accord_bft_proposals",
				Help: "Number of proposals made by this node",
			}),
			Equivocations: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "accord_bft_equivocations",
				Help: "Number of equivocations detected by kind",
			}, []string{"kind"}),
			DroppedMessages: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "accord_bft_dropped_messages",
				Help: "Number of inbound messages dropped by reason",
			}, []string{"reason"}),
		},
		RecoveryMetrics: RecoveryMetrics{
			RecordsAppended: factory.NewCounter(prometheus.CounterOpts{
				Name: "accord_recovery_records_appended",
				Help: "Number of records appended to the crash-recovery log",
			}),
			AppendLatency: factory.NewHistogram(prometheus.HistogramOpts{
				Name: "accord_recovery_append_latency_seconds",
				Help: "Time taken by a durable append",
			}),
		},
	}
	if gatherer != nil {
		mux := http.NewServeMux()
		mux.Handle(metricsPattern, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		m.server = &http.Server{Addr: config.PrometheusAddress, Handler: mux}
	}
	return m
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	if m == nil || m.server == nil || !m.config.Enabled {
		return
	}
	go func() {
		m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Errorf("Metrics server failed with err: %s", err.Error())
		}
	}()
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	if m == nil || m.server == nil || !m.config.Enabled {
		return
	}
	if err := m.server.Shutdown(context.Background()); err != nil {
		m.log.Error(err.Error())
	}
}

// UpdateView() is a setter for the height and round gauges
func (m *Metrics) UpdateView(height, round uint64) {
	if m == nil {
		return
	}
	m.Height.Set(float64(height))
	m.Round.Set(float64(round))
}

// RoundChange() counts a round change
func (m *Metrics) RoundChange(reason string) {
	if m == nil {
		return
	}
	m.RoundChanges.WithLabelValues(reason).Inc()
}

// Committed() counts a decision and observes how long the height took
func (m *Metrics) Committed(heightDuration time.Duration) {
	if m == nil {
		return
	}
	m.Commits.Inc()
	m.CommitLatency.Observe(heightDuration.Seconds())
}

// Proposed() counts a proposal made by this node
func (m *Metrics) Proposed() {
	if m == nil {
		return
	}
	m.ProposerCount.Inc()
}

// Equivocation() counts an observed equivocation
func (m *Metrics) Equivocation(kind string) {
	if m == nil {
		return
	}
	m.Equivocations.WithLabelValues(kind).Inc()
}

// Dropped() counts an inbound message that was discarded
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedMessages.WithLabelValues(reason).Inc()
}

// Appended() records a durable recovery log append
func (m *Metrics) Appended(took time.Duration) {
	if m == nil {
		return
	}
	m.RecordsAppended.Inc()
	m.AppendLatency.Observe(took.Seconds())
}
