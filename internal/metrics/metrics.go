// Package metrics exposes the cache state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "keycache"

// =============================================================================
// State Gauges
// =============================================================================

var (
	// SecretCached is 1 while a key is held in memory.
	SecretCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "secret_cached",
			Help:      "Whether a master key is currently cached (1) or not (0)",
		},
	)

	// ActivityCount tracks the number of foreground surfaces holding the cache open.
	ActivityCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activity_count",
			Help:      "Number of foreground activities currently registered",
		},
	)

	// ExpiryArmed is 1 while the inactivity expiry alarm is armed.
	ExpiryArmed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expiry_armed",
			Help:      "Whether the inactivity expiry alarm is armed (1) or not (0)",
		},
	)
)

// =============================================================================
// Transition Counters
// =============================================================================

var (
	// Expirations counts keys evicted by the inactivity alarm.
	Expirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expirations_total",
			Help:      "Total keys evicted because the inactivity timeout elapsed",
		},
	)

	// Clears counts explicit clear requests.
	Clears = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Total explicit key clear requests",
		},
	)

	// ArmFailures counts scheduler rejections. Any increase means a key may outlive its timeout.
	ArmFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arm_failures_total",
			Help:      "Total failures to arm the inactivity expiry alarm",
		},
	)

	// ActivityClamps counts stop notifications received while the count was already zero.
	ActivityClamps = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_clamps_total",
			Help:      "Total activity-stop notifications ignored because the count was zero",
		},
	)

	// PublishFailures counts key events nobody received in full.
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Total key events that could not be delivered to every subscriber",
		},
		[]string{"event"},
	)
)

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// RecordState publishes a consistent snapshot of the cache state.
func RecordState(cached bool, activityCount int, armed bool) {
	SecretCached.Set(boolValue(cached))
	ActivityCount.Set(float64(activityCount))
	ExpiryArmed.Set(boolValue(armed))
}
