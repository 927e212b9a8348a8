package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecisionTerminal(t *testing.T) {
	tests := []struct {
		decision Decision
		terminal bool
	}{
		{DecisionValid, false},
		{DecisionNotFound, true},
		{DecisionDisabled, true},
		{DecisionExpired, true},
		{DecisionBanned, true},
		{DecisionMachineLimit, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.decision.Terminal())
		})
	}
}

func TestDeviceStatusValid(t *testing.T) {
	for _, s := range []DeviceStatus{StatusVisitor, StatusActive, StatusSuspicious, StatusHacking, StatusBanned} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, DeviceStatus("frozen").Valid())
	assert.False(t, DeviceStatus("").Valid())
}

func TestLicenseExpired(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.False(t, (&License{}).Expired(now), "no expiry means never expired")
	assert.True(t, (&License{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&License{ExpiresAt: &future}).Expired(now))
	assert.False(t, (&License{ExpiresAt: &now}).Expired(now), "expiry is inclusive of the boundary instant")
}
