package broker

import "github.com/prometheus/client_golang/prometheus"

const (
	pathPush     = "push"
	pathPoll     = "poll"
	pathDeadline = "deadline"

	outcomeComplete = "complete"
	outcomeFailed   = "failed"
	outcomeTimeout  = "timeout"
)

var completionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "visiond",
		Subsystem: "broker",
		Name:      "completions_total",
		Help:      "Terminal job resolutions by completion path and outcome",
	},
	[]string{"path", "outcome"},
)

func init() {
	prometheus.MustRegister(completionsTotal)
}
