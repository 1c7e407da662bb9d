// Package observability wires the Prometheus collectors used by idconsensus.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/idconsensus/internal/datastore"
	"github.com/tphakala/idconsensus/internal/effects"
	"github.com/tphakala/idconsensus/internal/observability/metrics"
	"github.com/tphakala/idconsensus/internal/service"
	"github.com/tphakala/idconsensus/internal/taxonomy"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Taxonomy  *metrics.TaxonomyMetrics
	Effects   *metrics.EffectsMetrics
	Consensus *metrics.ConsensusMetrics
	HTTP      *metrics.HTTPMetrics
}

var (
	_ taxonomy.Recorder = (*metrics.TaxonomyMetrics)(nil)
	_ effects.Recorder  = (*metrics.EffectsMetrics)(nil)
	_ service.Recorder  = (*metrics.ConsensusMetrics)(nil)
)

// NewMetrics creates a new instance of Metrics on a private registry that also
// carries the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	taxonomyMetrics, err := metrics.NewTaxonomyMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create taxonomy metrics: %w", err)
	}

	effectsMetrics, err := metrics.NewEffectsMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create effects metrics: %w", err)
	}

	consensusMetrics, err := metrics.NewConsensusMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create consensus metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Taxonomy:  taxonomyMetrics,
		Effects:   effectsMetrics,
		Consensus: consensusMetrics,
		HTTP:      httpMetrics,
	}, nil
}

// Registry exposes the underlying registry, for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// ObserveOutbox publishes outbox row counts.
func (m *Metrics) ObserveOutbox(stats datastore.OutboxStats) {
	m.Effects.SetOutboxRows("pending", stats.Pending)
	m.Effects.SetOutboxRows("delivered", stats.Delivered)
	m.Effects.SetOutboxRows("failed", stats.Failed)
}
