// Package metrics registers the Prometheus counters the service increments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SalesCreated        prometheus.Counter
	SalesModified       prometheus.Counter
	SalesDeleted        prometheus.Counter
	AllocationConflicts prometheus.Counter
	StockMutations      prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		SalesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_sales_created_total",
			Help: "Sales successfully recorded.",
		}),
		SalesModified: factory.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_sales_modified_total",
			Help: "Sales successfully rewritten.",
		}),
		SalesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_sales_deleted_total",
			Help: "Sales cancelled with stock restored.",
		}),
		AllocationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_allocation_conflicts_total",
			Help: "Consume attempts rejected for insufficient or contended stock.",
		}),
		StockMutations: factory.NewCounter(prometheus.CounterOpts{
			Name: "pharmacy_stock_mutations_total",
			Help: "Ledger mutations applied (add, update, decrement, remove).",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
