// Package metrics holds the Prometheus collectors for the device flow client
// and the usage store
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DeviceFlowTotal counts finished device flow attempts by outcome
	DeviceFlowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_monitor_device_flow_total",
			Help: "Device authorization attempts by terminal state",
		},
		[]string{"state"},
	)

	// TokenPollsTotal counts token endpoint requests by classified response
	TokenPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_monitor_token_polls_total",
			Help: "Token endpoint polls by response",
		},
		[]string{"response"},
	)

	// UsageFetchTotal counts usage fetches by result code
	UsageFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_monitor_fetch_total",
			Help: "Usage fetches by result",
		},
		[]string{"result"},
	)

	// UsageFetchDuration tracks usage endpoint latency
	UsageFetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "usage_monitor_fetch_duration_seconds",
			Help:    "Usage endpoint request latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QuotaRemaining tracks the remaining percentage per quota
	QuotaRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usage_monitor_quota_remaining_percent",
			Help: "Remaining percentage of each quota in the latest snapshot",
		},
		[]string{"quota"},
	)

	// SnapshotStale is 1 while the latest refresh failed and older data is shown
	SnapshotStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "usage_monitor_snapshot_stale",
			Help: "Whether the displayed snapshot predates a failed refresh",
		},
	)
)

func init() {
	prometheus.MustRegister(DeviceFlowTotal)
	prometheus.MustRegister(TokenPollsTotal)
	prometheus.MustRegister(UsageFetchTotal)
	prometheus.MustRegister(UsageFetchDuration)
	prometheus.MustRegister(QuotaRemaining)
	prometheus.MustRegister(SnapshotStale)
}
