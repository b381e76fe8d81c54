// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soyeahso/owlvin/internal/hooks"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsActive  prometheus.Gauge
	CallsTotal   *prometheus.CounterVec
	CallDuration prometheus.Histogram

	// Generation metrics
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	PromptsRejected    prometheus.Counter

	// Closing message metrics
	NotificationsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "owlvin"
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calls_active",
		Help:      "Number of connected calls",
	})

	callsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_total",
		Help:      "Total calls by setup outcome",
	}, []string{"outcome"})

	callDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Call duration in seconds",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	generationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generations_total",
		Help:      "Total generations by provider and outcome",
	}, []string{"provider", "outcome"})

	generationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Time from generation start to final frame",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"provider"})

	promptsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prompts_rejected_total",
		Help:      "Prompts dropped because a generation was in flight",
	})

	notificationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Closing messages by channel and outcome",
	}, []string{"channel", "outcome"})

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		generationsTotal,
		generationDuration,
		promptsRejected,
		notificationsTotal,
	)

	return &Metrics{
		registry:           registry,
		CallsActive:        callsActive,
		CallsTotal:         callsTotal,
		CallDuration:       callDuration,
		GenerationsTotal:   generationsTotal,
		GenerationDuration: generationDuration,
		PromptsRejected:    promptsRejected,
		NotificationsTotal: notificationsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Subscribe wires the collectors to relay lifecycle events.
func (m *Metrics) Subscribe(hm *hooks.Manager) {
	hm.On(hooks.EventCallStart, "metrics", func(_ context.Context, p hooks.Payload) error {
		m.CallsActive.Inc()
		if outcome, _ := p.Data[hooks.KeyOutcome].(string); outcome != "" {
			m.CallsTotal.WithLabelValues(outcome).Inc()
		}
		return nil
	})
	hm.On(hooks.EventCallEnd, "metrics", func(_ context.Context, p hooks.Payload) error {
		m.CallsActive.Dec()
		if d, ok := p.Data[hooks.KeyDuration].(time.Duration); ok {
			m.CallDuration.Observe(d.Seconds())
		}
		return nil
	})
	hm.On(hooks.EventGenerationDone, "metrics", func(_ context.Context, p hooks.Payload) error {
		provider, _ := p.Data[hooks.KeyProvider].(string)
		outcome, _ := p.Data[hooks.KeyOutcome].(string)
		m.GenerationsTotal.WithLabelValues(provider, outcome).Inc()
		if d, ok := p.Data[hooks.KeyDuration].(time.Duration); ok {
			m.GenerationDuration.WithLabelValues(provider).Observe(d.Seconds())
		}
		return nil
	})
	hm.On(hooks.EventPromptRejected, "metrics", func(context.Context, hooks.Payload) error {
		m.PromptsRejected.Inc()
		return nil
	})
	hm.On(hooks.EventNotifySent, "metrics", func(_ context.Context, p hooks.Payload) error {
		channel, _ := p.Data[hooks.KeyChannel].(string)
		outcome, _ := p.Data[hooks.KeyOutcome].(string)
		m.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
		return nil
	})
}
