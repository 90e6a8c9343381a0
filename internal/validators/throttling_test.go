package validators

import (
	"testing"

	"github.com/gate4ai/mcpcore/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T) shared.ISession {
	t.Helper()
	return shared.NewBaseSession(zap.NewNop(), "", nil, nil)
}

func TestThrottling_AllowsWithinLimit(t *testing.T) {
	th := NewThrottling(100, 1000)
	sess := newTestSession(t)
	msg := &shared.Message{Session: sess}
	require.NoError(t, th.Validate(msg))
}

func TestThrottling_RejectsAfterRPSBurstExhausted(t *testing.T) {
	th := NewThrottling(1, 1000)
	sess := newTestSession(t)
	msg := &shared.Message{Session: sess}

	require.NoError(t, th.Validate(msg))
	assert.Error(t, th.Validate(msg), "second immediate request should exceed a 1 rps burst of 1")
}

func TestThrottling_LimitersAreReusedAcrossCallsForSameSession(t *testing.T) {
	th := NewThrottling(1, 1000)
	sess := newTestSession(t)
	msg := &shared.Message{Session: sess}

	_ = th.Validate(msg)
	_, ok := sess.GetParams().Load(LimitersParamKey)
	assert.True(t, ok, "limiter pair should be cached on the session params")
}

func TestThrottling_DistinctSessionsHaveIndependentLimiters(t *testing.T) {
	th := NewThrottling(1, 1000)
	sessA := newTestSession(t)
	sessB := newTestSession(t)

	require.NoError(t, th.Validate(&shared.Message{Session: sessA}))
	assert.Error(t, th.Validate(&shared.Message{Session: sessA}))
	assert.NoError(t, th.Validate(&shared.Message{Session: sessB}))
}
