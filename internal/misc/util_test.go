package misc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "", Fingerprint(nil))

	a := Fingerprint([]byte("master-secret-a"))
	b := Fingerprint([]byte("master-secret-b"))

	assert.Len(t, a, FingerprintSize*2)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint([]byte("master-secret-a")))
	assert.False(t, strings.Contains(a, "master"))
}
