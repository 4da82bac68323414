package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordState(t *testing.T) {
	RecordState(true, 3, false)
	require.Equal(t, 1.0, testutil.ToFloat64(SecretCached))
	require.Equal(t, 3.0, testutil.ToFloat64(ActivityCount))
	require.Equal(t, 0.0, testutil.ToFloat64(ExpiryArmed))

	RecordState(false, 0, true)
	require.Equal(t, 0.0, testutil.ToFloat64(SecretCached))
	require.Equal(t, 0.0, testutil.ToFloat64(ActivityCount))
	require.Equal(t, 1.0, testutil.ToFloat64(ExpiryArmed))
}

func TestPublishFailuresLabelled(t *testing.T) {
	before := testutil.ToFloat64(PublishFailures.WithLabelValues("key_expired"))
	PublishFailures.WithLabelValues("key_expired").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(PublishFailures.WithLabelValues("key_expired")))
}
