// Package keycache holds a decrypted master key in memory while the host
// application is in use and evicts it once the application has been idle past
// the configured timeout, or on request.
//
// The cache tracks how many foreground activities are open and whether a key is
// present. An inactivity expiry alarm is armed exactly when no activity is open,
// a key is cached and the timeout is enabled; every operation re-derives that
// condition from scratch before returning. Key changes and expiries are announced
// on a permissioned broadcast channel.
package keycache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"southwinds.dev/keycache/alarm"
	"southwinds.dev/keycache/audit"
	"southwinds.dev/keycache/broadcast"
	"southwinds.dev/keycache/display"
	"southwinds.dev/keycache/internal/debug"
	"southwinds.dev/keycache/internal/logging"
	"southwinds.dev/keycache/internal/mem"
	"southwinds.dev/keycache/internal/metrics"
	"southwinds.dev/keycache/internal/misc"
	"southwinds.dev/keycache/settings"
)

// Ensure SecretCache implements Service
var _ Service = (*SecretCache)(nil)

// SecretCache is the process-wide key cache. Create one with New at startup and
// release it with Close at shutdown.
type SecretCache struct {
	mu sync.RWMutex

	// cached key, frozen read-only, wiped on clear
	secret      *memguard.LockedBuffer
	fingerprint string

	activityCount int

	// expiry alarm state; generation invalidates callbacks from cancelled armings
	armed      bool
	deadline   time.Time
	generation uint64
	degraded   bool

	scheduler  alarm.Scheduler
	publisher  broadcast.Publisher
	permission string
	settings   settings.Provider
	indicator  display.Indicator
	audit      audit.Logger
	alarmToken string
	now        func() time.Time

	memoryProtectionLevel mem.ProtectionLevel
	memoryLocked          bool

	closed bool
}

// New creates the cache in the LOCKED state
func New(opts Options) (*SecretCache, error) {
	if err := validateOptions(&opts); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	c := &SecretCache{
		scheduler:  opts.Scheduler,
		publisher:  opts.Publisher,
		permission: opts.Permission,
		settings:   opts.Settings,
		indicator:  opts.Indicator,
		audit:      opts.Audit,
		alarmToken: opts.AlarmToken,
		now:        opts.Now,

		// memguard locks the pages holding the key regardless of process-wide locking
		memoryProtectionLevel: mem.ProtectionPartial,
	}

	if opts.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			logging.L.Warn("cannot lock process memory, relying on memguard buffers", "err", err)
		} else {
			c.memoryLocked = true
		}
		c.memoryProtectionLevel = level
	}

	c.logAudit(newRequestID(), audit.ActionCacheInitialized, nil, map[string]interface{}{
		"memory_protection": c.memoryProtectionLevel.String(),
		"timeout_enabled":   c.settings.TimeoutEnabled(),
		"alarm_token":       c.alarmToken,
	})
	metrics.RecordState(false, 0, false)

	return c, nil
}

// SetSecret caches key, replacing and wiping any previous key. Ownership of key
// moves to the cache: the caller's slice is wiped before SetSecret returns.
// Key material is not validated. An empty key is cached as a zero-size buffer:
// State reports it as cached, WithSecret passes it as a zero-length slice and
// its buffer always reports IsAlive() == false.
// The only failure after the key is stored is an *AlarmArmError, in which case
// the key stays cached but will not expire on its own.
func (c *SecretCache) SetSecret(key []byte) error {
	requestID := newRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordMetricsLocked()

	if c.closed {
		memguard.WipeBytes(key)
		return ErrClosed
	}
	fingerprint := misc.Fingerprint(key)
	buf := memguard.NewBufferFromBytes(key) // moves and wipes key, result is immutable

	if c.secret != nil {
		c.secret.Destroy()
	}
	c.secret = buf
	c.fingerprint = fingerprint

	c.indicator.Show()
	logging.L.Info("key cached", "fingerprint", fingerprint)
	c.logAudit(requestID, audit.ActionSecretCached, nil, map[string]interface{}{
		"key_size":       buf.Size(),
		"activity_count": c.activityCount,
	})

	c.publishLocked(requestID, broadcast.NewKeyChangedEvent(buf))

	return c.reconcileLocked(requestID)
}

// GetSecret returns the cached key buffer or nil when locked. The buffer is
// destroyed, and its memory unmapped, as soon as the key is cleared, expired or
// replaced, so reading it while another goroutine changes the cache faults.
// Use WithSecret to read the key; GetSecret is for identity and presence checks.
func (c *SecretCache) GetSecret() *memguard.LockedBuffer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil
	}
	return c.secret
}

// WithSecret runs fn with the cached key while holding the cache's read lock,
// so the key cannot be cleared, expired or replaced until fn returns. key is
// only valid inside fn and must not be retained. fn must not call back into
// methods that change the cache. Returns ErrNoSecret when no key is cached and
// fn's own error otherwise.
func (c *SecretCache) WithSecret(fn func(key []byte) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrClosed
	}
	if c.secret == nil {
		return ErrNoSecret
	}
	return fn(c.secret.Bytes())
}

// OnActivityStarted registers a foreground activity. Any pending expiry is
// cancelled before the count goes up.
func (c *SecretCache) OnActivityStarted() error {
	requestID := newRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordMetricsLocked()

	if c.closed {
		return ErrClosed
	}

	c.cancelLocked(requestID)
	c.activityCount++
	debug.Print("activity started, count=%d\n", c.activityCount)

	return c.reconcileLocked(requestID)
}

// OnActivityStopped unregisters a foreground activity and arms the expiry when
// the last one goes away. A stop with no open activity is logged and ignored.
func (c *SecretCache) OnActivityStopped() error {
	requestID := newRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordMetricsLocked()

	if c.closed {
		return ErrClosed
	}

	if c.activityCount == 0 {
		metrics.ActivityClamps.Inc()
		logging.L.Warn("activity stopped with no activity running, count stays at zero")
		c.logAudit(requestID, audit.ActionActivityCountClamped, nil, nil)
	} else {
		c.activityCount--
	}
	debug.Print("activity stopped, count=%d\n", c.activityCount)

	return c.reconcileLocked(requestID)
}

// OnClearRequested wipes the key without announcing an expiry
func (c *SecretCache) OnClearRequested() error {
	requestID := newRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordMetricsLocked()

	if c.closed {
		return ErrClosed
	}

	metrics.Clears.Inc()
	c.clearLocked(requestID, audit.ActionSecretCleared)
	return nil
}

// OnTimerFired wipes the key and announces the expiry. It always publishes,
// even when no key was cached.
func (c *SecretCache) OnTimerFired() error {
	requestID := newRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordMetricsLocked()

	if c.closed {
		return ErrClosed
	}

	c.expireLocked(requestID)
	return nil
}

// handleAlarm is the scheduler callback. Callbacks from an arming that has since
// been cancelled or replaced are dropped.
func (c *SecretCache) handleAlarm(generation uint64) {
	requestID := newRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordMetricsLocked()

	if c.closed || !c.armed || generation != c.generation {
		debug.Print("stale expiry alarm dropped (generation %d, current %d)\n", generation, c.generation)
		return
	}

	// the registration is consumed by firing
	c.armed = false
	c.deadline = time.Time{}
	c.expireLocked(requestID)
}

// Handle dispatches a lifecycle command
func (c *SecretCache) Handle(cmd Command) error {
	switch cmd {
	case CommandActivityStart:
		return c.OnActivityStarted()
	case CommandActivityStop:
		return c.OnActivityStopped()
	case CommandClearKey:
		return c.OnClearRequested()
	case CommandPassphraseExpired:
		return c.OnTimerFired()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

// State returns a snapshot of the cache
func (c *SecretCache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached := c.secret != nil
	return State{
		Phase:         phaseOf(cached, c.activityCount, c.armed),
		Cached:        cached,
		ActivityCount: c.activityCount,
		Armed:         c.armed,
		Deadline:      c.deadline,
		Degraded:      c.degraded,
		Closed:        c.closed,
	}
}

// SecureMemoryProtection returns a human-readable description of the memory protection level
func (c *SecretCache) SecureMemoryProtection() string {
	return c.memoryProtectionLevel.String()
}

// Close cancels the expiry alarm, wipes the key and closes the audit logger.
// Every later command returns ErrClosed. Safe to call multiple times.
func (c *SecretCache) Close() error {
	requestID := newRequestID()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.cancelLocked(requestID)

	wasCached := c.secret != nil
	c.logAudit(requestID, audit.ActionCacheShutdown, nil, map[string]interface{}{
		"was_cached":     wasCached,
		"activity_count": c.activityCount,
	})
	c.wipeLocked()
	c.indicator.Hide()
	c.activityCount = 0
	c.degraded = false
	c.closed = true
	metrics.RecordState(false, 0, false)

	var errs []error
	if err := c.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
	}
	if c.memoryLocked {
		if err := mem.Unlock(); err != nil {
			errs = append(errs, err)
		}
		c.memoryLocked = false
	}

	logging.L.Info("key cache shut down", "was_cached", wasCached)
	return errors.Join(errs...)
}

// reconcileLocked arms the expiry iff no activity is open, a key is cached and
// the timeout is enabled, otherwise disarms it. Arming always replaces the
// previous registration with a fresh deadline.
func (c *SecretCache) reconcileLocked(requestID string) error {
	if c.activityCount > 0 || c.secret == nil || !c.settings.TimeoutEnabled() {
		c.degraded = false
		c.cancelLocked(requestID)
		return nil
	}

	interval := c.settings.TimeoutInterval()
	deadline := c.now().Add(interval)

	c.cancelLocked(requestID)
	generation := c.generation

	err := c.scheduler.Arm(c.alarmToken, deadline, func() { c.handleAlarm(generation) })
	if err != nil {
		c.degraded = true
		metrics.ArmFailures.Inc()
		armErr := &AlarmArmError{Deadline: deadline, Err: err}
		logging.L.Error("expiry alarm not armed, cached key will not expire",
			"deadline", deadline, "err", err)
		c.logAudit(requestID, audit.ActionExpiryArmFailed, armErr, map[string]interface{}{
			"deadline": deadline,
		})
		return armErr
	}

	c.armed = true
	c.deadline = deadline
	c.degraded = false
	debug.Print("expiry armed for %s (generation %d)\n", deadline.Format(time.RFC3339), generation)
	c.logAudit(requestID, audit.ActionExpiryArmed, nil, map[string]interface{}{
		"deadline":        deadline,
		"timeout_seconds": interval.Seconds(),
	})
	return nil
}

// cancelLocked withdraws any expiry registration. Cancelling when nothing is
// armed is harmless.
func (c *SecretCache) cancelLocked(requestID string) {
	c.scheduler.Cancel(c.alarmToken)
	c.generation++

	if c.armed {
		c.logAudit(requestID, audit.ActionExpiryCancelled, nil, map[string]interface{}{
			"deadline": c.deadline,
		})
		c.armed = false
		c.deadline = time.Time{}
	}
}

// clearLocked is shared by explicit clears and expiry
func (c *SecretCache) clearLocked(requestID, action string) {
	wasCached := c.secret != nil
	c.logAudit(requestID, action, nil, map[string]interface{}{
		"was_cached":     wasCached,
		"activity_count": c.activityCount,
	})

	c.wipeLocked()
	c.indicator.Hide()
	if wasCached {
		logging.L.Info("key cleared", "reason", action)
	}

	// key is gone, so this only disarms
	_ = c.reconcileLocked(requestID)
}

func (c *SecretCache) expireLocked(requestID string) {
	metrics.Expirations.Inc()
	c.clearLocked(requestID, audit.ActionSecretExpired)
	c.publishLocked(requestID, broadcast.NewKeyExpiredEvent())
}

// wipeLocked destroys the key buffer in place so every holder of it sees it die
func (c *SecretCache) wipeLocked() {
	if c.secret != nil {
		c.secret.Destroy()
		c.secret = nil
	}
	c.fingerprint = ""
}

// publishLocked never fails the caller; delivery problems are logged and audited
func (c *SecretCache) publishLocked(requestID string, ev broadcast.Event) {
	err := c.publisher.Publish(c.permission, ev)
	if err == nil {
		return
	}

	metrics.PublishFailures.WithLabelValues(string(ev.Type)).Inc()
	logging.L.Warn("key event not delivered", "event", ev.Type, "event_id", ev.ID, "err", err)
	c.logAudit(requestID, audit.ActionEventPublishFailed, err, map[string]interface{}{
		"event":    string(ev.Type),
		"event_id": ev.ID,
	})
}

func (c *SecretCache) recordMetricsLocked() {
	if c.closed {
		return
	}
	metrics.RecordState(c.secret != nil, c.activityCount, c.armed)
}

func (c *SecretCache) logAudit(requestID, action string, err error, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	metadata["request_id"] = requestID
	metadata["timestamp"] = time.Now().UTC()
	if c.fingerprint != "" {
		metadata["key_fingerprint"] = c.fingerprint
	}

	success := err == nil
	if err != nil {
		metadata["error"] = err.Error()
	}

	if auditErr := c.audit.Log(action, success, metadata); auditErr != nil {
		logging.L.Error("audit logging failed", "action", action, "err", auditErr)
	}
}

func newRequestID() string {
	return uuid.NewString()
}
