package keycache

import "time"

// Phase names the cache state machine states
type Phase string

const (
	PhaseLocked            Phase = "LOCKED"
	PhaseCachedActive      Phase = "CACHED_ACTIVE"
	PhaseCachedIdleArmed   Phase = "CACHED_IDLE_ARMED"
	PhaseCachedIdleUnarmed Phase = "CACHED_IDLE_UNARMED"
)

// State is a point-in-time snapshot of the cache
type State struct {
	Phase         Phase     `json:"phase"`
	Cached        bool      `json:"cached"`
	ActivityCount int       `json:"activity_count"`
	Armed         bool      `json:"armed"`
	Deadline      time.Time `json:"deadline,omitempty"`

	// Degraded is set when the expiry alarm should be armed but the last attempt failed
	Degraded bool `json:"degraded"`
	Closed   bool `json:"closed"`
}

func phaseOf(cached bool, activityCount int, armed bool) Phase {
	switch {
	case !cached:
		return PhaseLocked
	case activityCount > 0:
		return PhaseCachedActive
	case armed:
		return PhaseCachedIdleArmed
	default:
		return PhaseCachedIdleUnarmed
	}
}
