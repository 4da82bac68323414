package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"southwinds.dev/keycache/internal/misc"
)

func TestStaticDefaults(t *testing.T) {
	s := Static{}
	assert.False(t, s.TimeoutEnabled())
	assert.Equal(t, misc.DefaultTimeoutInterval, s.TimeoutInterval())

	s = Static{Enabled: true, Interval: time.Minute}
	assert.True(t, s.TimeoutEnabled())
	assert.Equal(t, time.Minute, s.TimeoutInterval())
}

func TestViperProviderDefaults(t *testing.T) {
	p := NewViperProvider(viper.New())

	assert.False(t, p.TimeoutEnabled())
	assert.Equal(t, 5*time.Minute, p.TimeoutInterval())
}

func TestViperProviderReadsFresh(t *testing.T) {
	v := viper.New()
	p := NewViperProvider(v)

	v.Set(KeyTimeoutEnabled, true)
	v.Set(KeyTimeoutMinutes, 1)
	assert.True(t, p.TimeoutEnabled())
	assert.Equal(t, time.Minute, p.TimeoutInterval())

	v.Set(KeyTimeoutMinutes, 30)
	assert.Equal(t, 30*time.Minute, p.TimeoutInterval())
}

func TestViperProviderInvalidInterval(t *testing.T) {
	v := viper.New()
	p := NewViperProvider(v)

	v.Set(KeyTimeoutMinutes, 0)
	assert.Equal(t, misc.DefaultTimeoutInterval, p.TimeoutInterval())

	v.Set(KeyTimeoutMinutes, -3)
	assert.Equal(t, misc.DefaultTimeoutInterval, p.TimeoutInterval())
}

func TestViperProviderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keycache.yaml")
	require.NoError(t, os.WriteFile(path, []byte("passphrase_timeout:\n  enabled: true\n  interval_minutes: 15\n"), 0600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	p := NewViperProvider(v)
	assert.True(t, p.TimeoutEnabled())
	assert.Equal(t, 15*time.Minute, p.TimeoutInterval())
}
