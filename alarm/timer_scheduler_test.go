package alarm

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test.expiry"

func TestTimerScheduler_Fires(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	var fired atomic.Int32
	require.NoError(t, s.Arm(testToken, time.Now().Add(20*time.Millisecond), func() { fired.Add(1) }))

	deadline, ok := s.Pending(testToken)
	assert.True(t, ok)
	assert.False(t, deadline.IsZero())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, ok = s.Pending(testToken)
	assert.False(t, ok, "registration should be consumed after firing")
}

func TestTimerScheduler_RearmReplaces(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	var first, second atomic.Int32
	require.NoError(t, s.Arm(testToken, time.Now().Add(30*time.Millisecond), func() { first.Add(1) }))
	require.NoError(t, s.Arm(testToken, time.Now().Add(60*time.Millisecond), func() { second.Add(1) }))

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), first.Load(), "replaced registration must never fire")
	assert.Equal(t, int32(1), second.Load())
}

func TestTimerScheduler_CancelIsIdempotent(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	var fired atomic.Int32
	s.Cancel(testToken)
	require.NoError(t, s.Arm(testToken, time.Now().Add(20*time.Millisecond), func() { fired.Add(1) }))
	s.Cancel(testToken)
	s.Cancel(testToken)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	_, ok := s.Pending(testToken)
	assert.False(t, ok)
}

func TestTimerScheduler_PastDeadlineFiresImmediately(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Close()

	done := make(chan struct{})
	require.NoError(t, s.Arm(testToken, time.Now().Add(-time.Minute), func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("past deadline did not fire")
	}
}

func TestTimerScheduler_Validation(t *testing.T) {
	s := NewTimerScheduler()

	assert.ErrorIs(t, s.Arm("", time.Now(), func() {}), ErrMissingToken)
	assert.ErrorIs(t, s.Arm(testToken, time.Time{}, func() {}), ErrInvalidDeadline)

	var fired atomic.Int32
	require.NoError(t, s.Arm(testToken, time.Now().Add(20*time.Millisecond), func() { fired.Add(1) }))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Arm(testToken, time.Now().Add(time.Second), func() {}), ErrSchedulerClosed)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "close must stop pending timers")
}
