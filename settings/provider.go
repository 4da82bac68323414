// Package settings supplies the passphrase timeout configuration. Values are
// read on every arming decision, never cached by the caller.
package settings

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"southwinds.dev/keycache/internal/logging"
	"southwinds.dev/keycache/internal/misc"
)

const (
	// KeyTimeoutEnabled toggles inactivity expiry
	KeyTimeoutEnabled = "passphrase_timeout.enabled"

	// KeyTimeoutMinutes is the inactivity interval in minutes
	KeyTimeoutMinutes = "passphrase_timeout.interval_minutes"
)

// Provider is the read-only view of the timeout configuration
type Provider interface {
	TimeoutEnabled() bool
	TimeoutInterval() time.Duration
}

// Static is a fixed Provider
type Static struct {
	Enabled  bool
	Interval time.Duration
}

func (s Static) TimeoutEnabled() bool { return s.Enabled }

func (s Static) TimeoutInterval() time.Duration {
	if s.Interval <= 0 {
		return misc.DefaultTimeoutInterval
	}
	return s.Interval
}

// SetDefaults registers the timeout defaults on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyTimeoutEnabled, false)
	v.SetDefault(KeyTimeoutMinutes, misc.DefaultTimeoutMinutes)
}

// ViperProvider reads the timeout settings through viper on every call
type ViperProvider struct {
	v *viper.Viper
}

// NewViperProvider wraps v, registering defaults; nil uses the global viper instance
func NewViperProvider(v *viper.Viper) *ViperProvider {
	if v == nil {
		v = viper.GetViper()
	}
	SetDefaults(v)
	return &ViperProvider{v: v}
}

func (p *ViperProvider) TimeoutEnabled() bool {
	return p.v.GetBool(KeyTimeoutEnabled)
}

func (p *ViperProvider) TimeoutInterval() time.Duration {
	minutes := p.v.GetInt(KeyTimeoutMinutes)
	if minutes <= 0 {
		logging.L.Warn("invalid passphrase timeout, using default",
			"configured_minutes", minutes,
			"default_minutes", misc.DefaultTimeoutMinutes)
		return misc.DefaultTimeoutInterval
	}
	return time.Duration(minutes) * time.Minute
}

// Watch reloads the config file on change, so edits apply to the next arming decision
func (p *ViperProvider) Watch() {
	p.v.OnConfigChange(func(e fsnotify.Event) {
		logging.L.Info("configuration reloaded",
			"file", e.Name,
			"timeout_enabled", p.TimeoutEnabled(),
			"timeout", p.TimeoutInterval())
	})
	p.v.WatchConfig()
}
