package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for the refresh worker. Registered on a private registry so tests
// can create as many instances as they want.
type Metrics struct {
	registry *prometheus.Registry

	RefreshCycles     prometheus.Counter
	StatusRefreshes   *prometheus.CounterVec
	RefreshErrors     *prometheus.CounterVec
	OrderSyncs        prometheus.Counter
	OrderSyncFailures prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RefreshCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "parcelscan_refresh_cycles_total",
			Help: "Completed tracking refresh cycles.",
		}),
		StatusRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelscan_status_refreshes_total",
			Help: "Carrier status lookups performed by the refresher.",
		}, []string{"carrier"}),
		RefreshErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parcelscan_refresh_errors_total",
			Help: "Failed carrier status lookups.",
		}, []string{"carrier"}),
		OrderSyncs: factory.NewCounter(prometheus.CounterOpts{
			Name: "parcelscan_order_syncs_total",
			Help: "Completed order sync runs.",
		}),
		OrderSyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "parcelscan_order_sync_failures_total",
			Help: "Order sync runs that ended in error.",
		}),
	}
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
