// Package metrics exposes Prometheus collectors for the perks plugin. Every
// recording method is safe to call on a nil *Metrics, so components may run
// without metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of the plugin.
type Metrics struct {
	// Reload and start outcomes by result ("success", "failure").
	Reloads *prometheus.CounterVec
	// Number of features in the current snapshot.
	FeaturesActive prometheus.Gauge
	// Configuration entries rejected while loading.
	EntryErrors prometheus.Counter
	// Authorisation decisions by result ("allowed", "denied").
	Authorize *prometheus.CounterVec
	// Permission provider failures resolved by policy.
	ProviderErrors prometheus.Counter
	// Template placeholders rendered without a value.
	RenderWarnings prometheus.Counter
	// Perks applied to players by feature id.
	PerksApplied *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered on reg. A
// nil reg registers on prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "npp_reloads_total",
			Help: "Configuration loads by lifecycle operation result",
		}, []string{"result"}),

		FeaturesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "npp_features_active",
			Help: "Number of features in the published snapshot",
		}),

		EntryErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "npp_entry_errors_total",
			Help: "Feature entries rejected during configuration loads",
		}),

		Authorize: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "npp_authorize_total",
			Help: "Permission gate decisions by result",
		}, []string{"result"}),

		ProviderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "npp_provider_errors_total",
			Help: "Permission provider failures resolved by the configured policy",
		}),

		RenderWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "npp_render_warnings_total",
			Help: "Message placeholders rendered without a value",
		}),

		PerksApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "npp_perks_applied_total",
			Help: "Perks applied to players by feature",
		}, []string{"feature"}),
	}
}

// ObserveReload records the result of a start or reload.
func (m *Metrics) ObserveReload(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Reloads.WithLabelValues("success").Inc()
		return
	}
	m.Reloads.WithLabelValues("failure").Inc()
}

// SetFeaturesActive records the size of the published snapshot.
func (m *Metrics) SetFeaturesActive(n int) {
	if m != nil {
		m.FeaturesActive.Set(float64(n))
	}
}

// AddEntryErrors records n rejected configuration entries.
func (m *Metrics) AddEntryErrors(n int) {
	if m != nil && n > 0 {
		m.EntryErrors.Add(float64(n))
	}
}

// ObserveAuthorize records a gate decision.
func (m *Metrics) ObserveAuthorize(result string) {
	if m != nil {
		m.Authorize.WithLabelValues(result).Inc()
	}
}

// IncrementProviderErrors records a permission provider failure.
func (m *Metrics) IncrementProviderErrors() {
	if m != nil {
		m.ProviderErrors.Inc()
	}
}

// AddRenderWarnings records n placeholders rendered without a value.
func (m *Metrics) AddRenderWarnings(n int) {
	if m != nil && n > 0 {
		m.RenderWarnings.Add(float64(n))
	}
}

// IncrementPerkApplied records a perk applied to a player.
func (m *Metrics) IncrementPerkApplied(feature string) {
	if m != nil {
		m.PerksApplied.WithLabelValues(feature).Inc()
	}
}
