package slot

import "github.com/prometheus/client_golang/prometheus"

var (
	slotLoadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "visiond",
		Subsystem: "slot",
		Name:      "loads_total",
		Help:      "Total model loads into the slot",
	})
	slotUnloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "visiond",
		Subsystem: "slot",
		Name:      "unloads_total",
		Help:      "Total model unloads from the slot",
	})
	slotLoadFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "visiond",
		Subsystem: "slot",
		Name:      "load_failures_total",
		Help:      "Total failed model loads",
	})
)

func init() {
	prometheus.MustRegister(slotLoadsTotal, slotUnloadsTotal, slotLoadFailuresTotal)
}
