package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIsStable(t *testing.T) {
	m := NewManager()

	first, err := m.Fingerprint()
	require.NoError(t, err)
	second, err := m.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 32)
	assert.Regexp(t, `^[0-9a-f]{32}$`, first)
}

func TestDeviceIDDiffersFromFingerprint(t *testing.T) {
	m := NewManager()

	fp, err := m.Fingerprint()
	require.NoError(t, err)
	id, err := m.DeviceID()
	require.NoError(t, err)

	assert.NotEqual(t, fp, id)
	assert.Regexp(t, `^dev-[0-9a-f]{16}$`, id)
}

func TestManagersAgreeOnSameMachine(t *testing.T) {
	a, err := NewManager().Fingerprint()
	require.NoError(t, err)
	b, err := NewManager().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
