package scheduler

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantBeatsBulkTraffic(t *testing.T) {
	s := NewScheduler(DefaultRates())

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Enqueue(fmt.Sprintf("low-%d", i), TierLow))
	}
	require.NoError(t, s.Enqueue("critical", TierInstant))

	out := s.Drain(0.05)
	require.NotEmpty(t, out)
	assert.Equal(t, "critical", out[0])
}

func TestFIFOWithinTier(t *testing.T) {
	s := NewScheduler(Rates{High: 1000, Medium: 20, Low: 5})

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Enqueue(i, TierHigh))
	}

	out := s.Drain(1.0)
	require.Len(t, out, 10)
	for i, item := range out {
		assert.Equal(t, i, item)
	}
}

func TestThrottledTierRespectsRate(t *testing.T) {
	s := NewScheduler(Rates{High: 60, Medium: 20, Low: 5})

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Enqueue(i, TierLow))
	}

	// 5/s at 100ms per cycle: one send every other cycle.
	sent := 0
	for cycle := 0; cycle < 10; cycle++ {
		sent += len(s.Drain(0.1))
	}
	assert.Equal(t, 5, sent)
	assert.Equal(t, 45, s.Len(TierLow))
}

func TestLowTierGuaranteedQuotaUnderHighLoad(t *testing.T) {
	s := NewScheduler(Rates{High: 10, Medium: 20, Low: 5})

	for i := 0; i < 1000; i++ {
		require.NoError(t, s.Enqueue(fmt.Sprintf("high-%d", i), TierHigh))
	}
	require.NoError(t, s.Enqueue("low-0", TierLow))

	// One full second of cycles: the low tier accrues 5 credits, so its
	// message must go out even though the high tier never empties.
	var drained []interface{}
	for cycle := 0; cycle < 10; cycle++ {
		drained = append(drained, s.Drain(0.1)...)
	}
	assert.Contains(t, drained, "low-0")
}

func TestIdleTiersDonateCredit(t *testing.T) {
	s := NewScheduler(Rates{High: 10, Medium: 10, Low: 10})

	for i := 0; i < 30; i++ {
		require.NoError(t, s.Enqueue(i, TierHigh))
	}

	// With medium and low idle, the high tier may spend their credit:
	// 10+10+10 sends in one second instead of 10.
	out := s.Drain(1.0)
	assert.Len(t, out, 30)
}

func TestDropDiscardsQueued(t *testing.T) {
	s := NewScheduler(DefaultRates())
	require.NoError(t, s.Enqueue("a", TierInstant))
	require.NoError(t, s.Enqueue("b", TierMedium))

	s.Drop()
	assert.Zero(t, s.Total())
	assert.Empty(t, s.Drain(1.0))
}

func TestEnqueueInvalidTier(t *testing.T) {
	s := NewScheduler(DefaultRates())
	assert.Error(t, s.Enqueue("x", Tier(9)))
}
