package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusPassed, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusUnstable, true},
		{StatusRunning, StatusAnalyzing, true},
		{StatusRunning, StatusError, true},
		{StatusAnalyzing, StatusFailed, true},
		{StatusAnalyzing, StatusUnstable, true},
		{StatusAnalyzing, StatusPassed, false},
		{StatusPassed, StatusRunning, false},
		{StatusError, StatusRunning, false},
		{StatusPending, StatusAnalyzing, false},
		{StatusRunning, StatusRunning, true}, // idempotent re-broadcast
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "from=%s to=%s", c.from, c.to)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusPassed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusUnstable.Terminal())
	assert.True(t, StatusError.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusAnalyzing.Terminal())
}

func TestConfigValidate(t *testing.T) {
	ok := Config{Environment: EnvStaging, RetryAttempts: 3}
	require.NoError(t, ok.Validate())

	bad := Config{Environment: "nope", RetryAttempts: 0}
	assert.Error(t, bad.Validate())

	tooMany := Config{Environment: EnvProduction, RetryAttempts: 6}
	assert.Error(t, tooMany.Validate())
}

func TestRequestValidate(t *testing.T) {
	r := Request{TaskID: "t1", Image: "img", Command: "run", Config: Config{Environment: EnvProduction}}
	require.NoError(t, r.Validate())

	missing := Request{Image: "img", Command: "run", Config: Config{Environment: EnvProduction}}
	assert.Error(t, missing.Validate())
}

func TestJobMessageValid(t *testing.T) {
	assert.True(t, JobMessage{TaskID: "t1", OrganizationID: "org1"}.Valid())
	assert.False(t, JobMessage{TaskID: "t1"}.Valid())
	assert.False(t, JobMessage{OrganizationID: "org1"}.Valid())
}

func TestNewFromRequest(t *testing.T) {
	r := Request{TaskID: "t1", Image: "img", Command: "run", Config: Config{Environment: EnvProduction}}
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	e := NewFromRequest(r, "org1", now)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, "org1", e.OrganizationID)
	assert.Equal(t, now, e.StartTime)
}
