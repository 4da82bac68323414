package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"southwinds.dev/keycache"
	"southwinds.dev/keycache/alarm"
	"southwinds.dev/keycache/audit"
	"southwinds.dev/keycache/broadcast"
	"southwinds.dev/keycache/internal/misc"
	"southwinds.dev/keycache/settings"
)

func newTestCache(t *testing.T, enabled bool) *keycache.SecretCache {
	t.Helper()

	scheduler := alarm.NewTimerScheduler()
	t.Cleanup(func() { _ = scheduler.Close() })

	channel, err := broadcast.NewChannel(misc.DefaultPermission)
	require.NoError(t, err)

	cache, err := keycache.New(keycache.Options{
		Scheduler: scheduler,
		Publisher: channel,
		Settings:  settings.Static{Enabled: enabled, Interval: time.Hour},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestSessionRunsCommands(t *testing.T) {
	cache := newTestCache(t, true)
	out := &bytes.Buffer{}
	s := newSession(cache, out)

	input := strings.Join([]string{
		"activity-start",
		"unlock correct horse",
		"",
		"activity-stop",
		"status",
		"reboot",
		"quit",
		"activity-start",
	}, "\n")

	require.NoError(t, s.run(context.Background(), strings.NewReader(input)))

	st := cache.State()
	assert.Equal(t, keycache.PhaseCachedIdleArmed, st.Phase)
	assert.Equal(t, 0, st.ActivityCount)
	assert.Equal(t, []byte("correct horse"), cache.GetSecret().Bytes())

	text := out.String()
	assert.Contains(t, text, "ok activity-start")
	assert.Contains(t, text, "ok unlock")
	assert.Contains(t, text, "CACHED_IDLE_ARMED")
	assert.Contains(t, text, "unknown command")
}

func TestSessionStopsAtEOF(t *testing.T) {
	cache := newTestCache(t, false)
	s := newSession(cache, &bytes.Buffer{})

	require.NoError(t, s.run(context.Background(), strings.NewReader("unlock k\nclear-key\n")))
	assert.Nil(t, cache.GetSecret())
}

func TestSessionStopsOnCancel(t *testing.T) {
	cache := newTestCache(t, false)
	s := newSession(cache, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// a reader that never returns must not hold up shutdown
	blocked, release := newBlockingReader()
	defer release()
	done := make(chan error, 1)
	go func() { done <- s.run(ctx, blocked) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSessionCancelReleasesPendingRead(t *testing.T) {
	cache := newTestCache(t, false)
	s := newSession(cache, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	in := newClosableReader()

	done := make(chan error, 1)
	go func() { done <- s.run(ctx, in) }()

	// wait until the scanner is blocked in Read
	select {
	case <-in.reading:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never started")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}

	select {
	case <-in.returned:
	case <-time.After(2 * time.Second):
		t.Fatal("pending read was not released")
	}
}

func TestSessionUnlockPrompt(t *testing.T) {
	cache := newTestCache(t, false)
	out := &bytes.Buffer{}
	s := newSession(cache, out)

	s.readKey = func() ([]byte, error) { return []byte("prompted"), nil }
	_, err := s.execute("unlock")
	require.NoError(t, err)
	assert.Equal(t, []byte("prompted"), cache.GetSecret().Bytes())

	s.readKey = func() ([]byte, error) { return nil, errNoTerminal }
	_, err = s.execute("unlock")
	assert.ErrorIs(t, err, errNoTerminal)
}

func TestValidateConfiguration(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	assert.Empty(t, validateConfiguration(v))

	v.Set(settings.KeyTimeoutEnabled, true)
	v.Set(settings.KeyTimeoutMinutes, 0)
	v.Set("cache.permission", "")
	v.Set("log.level", "loud")
	v.Set("audit.enabled", true)
	v.Set("audit.type", "kafka")

	assert.Len(t, validateConfiguration(v), 4)
}

func TestConvertStringValue(t *testing.T) {
	assert.Equal(t, true, convertStringValue("true"))
	assert.Equal(t, 10, convertStringValue("10"))
	assert.Equal(t, 1.5, convertStringValue("1.5"))
	assert.Equal(t, "info", convertStringValue("info"))

	assert.NoError(t, validateConfigValue(settings.KeyTimeoutMinutes, 10))
	assert.Error(t, validateConfigValue(settings.KeyTimeoutMinutes, -1))
	assert.Error(t, validateConfigValue(settings.KeyTimeoutEnabled, "yes"))
}

func TestCalculateAuditStats(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []audit.Event{
		{Action: audit.ActionSecretCached, Success: true, KeyFingerprint: "aa", Timestamp: base},
		{Action: audit.ActionExpiryArmFailed, Success: false, KeyFingerprint: "aa", Timestamp: base.Add(time.Second)},
		{Action: audit.ActionSecretCached, Success: true, KeyFingerprint: "bb", Timestamp: base.Add(2 * time.Second)},
		{Action: audit.ActionSecretExpired, Success: true, KeyFingerprint: "bb", Timestamp: base.Add(3 * time.Second)},
		{Action: audit.ActionSecretCleared, Success: true, Timestamp: base.Add(4 * time.Second)},
	}

	stats := calculateAuditStats(events)
	assert.Equal(t, 5, stats.TotalEvents)
	assert.Equal(t, 1, stats.FailedEvents)
	assert.Equal(t, 2, stats.KeysCached)
	assert.Equal(t, 1, stats.Expirations)
	assert.Equal(t, 1, stats.Clears)
	assert.Equal(t, 1, stats.ArmFailures)
	assert.Equal(t, 2, stats.DistinctKeys)
	assert.Equal(t, base, *stats.FirstEvent)
	assert.Equal(t, base.Add(4*time.Second), *stats.LastEvent)
}

func TestFormatError(t *testing.T) {
	inner := errors.New("disk full")
	err := errors.Join(errors.New("write failed"))
	assert.Equal(t, "Error: Write failed", formatError(err))

	wrapped := wrapErr("failed to save", inner)
	assert.Equal(t, "Error: Failed to save: disk full", formatError(wrapped))
	assert.Equal(t, "", formatError(nil))
}

func wrapErr(msg string, err error) error {
	return &wrapped{msg: msg, err: err}
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

// blockingReader never returns from Read until released
type blockingReader struct {
	release chan struct{}
}

func newBlockingReader() (*blockingReader, func()) {
	r := &blockingReader{release: make(chan struct{})}
	return r, func() { close(r.release) }
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.release
	return 0, errors.New("released")
}

func TestCompletionScripts(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			out := &bytes.Buffer{}
			completionCmd.SetOut(out)
			defer completionCmd.SetOut(nil)

			require.NoError(t, runCompletion(completionCmd, []string{shell}))
			assert.Contains(t, out.String(), "keycache")
		})
	}

	assert.Error(t, runCompletion(completionCmd, []string{"tcsh"}))
}

// closableReader blocks in Read until Close, like a pipe
type closableReader struct {
	reading  chan struct{}
	returned chan struct{}
	closed   chan struct{}
	once     sync.Once
}

func newClosableReader() *closableReader {
	return &closableReader{
		reading:  make(chan struct{}, 1),
		returned: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (r *closableReader) Read(p []byte) (int, error) {
	select {
	case r.reading <- struct{}{}:
	default:
	}
	<-r.closed
	close(r.returned)
	return 0, io.EOF
}

func (r *closableReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}
