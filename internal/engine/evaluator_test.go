package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dutchbook/internal/domain"
)

func TestEvaluate_RejectsAtCeiling(t *testing.T) {
	// 0.44 + 0.50 + 2x0.02 = 0.98, over the 0.97 ceiling.
	_, err := Evaluate(DefaultEvalParams(), 0.44, 0.50, domain.Position{})
	assert.ErrorIs(t, err, domain.ErrNoOpportunity)
}

func TestEvaluate_SizesAdmittedPair(t *testing.T) {
	opp, err := Evaluate(DefaultEvalParams(), 0.40, 0.50, domain.Position{})
	require.NoError(t, err)

	// Capped by the per-order limit: 2x25 / 0.90 = 55.5, floored.
	assert.EqualValues(t, 55, opp.Shares)
	assert.InDelta(t, 0.42, opp.YesPrice, 1e-9)
	assert.InDelta(t, 0.52, opp.NoPrice, 1e-9)
	assert.InDelta(t, 0.90, opp.CombinedRaw, 1e-9)
	assert.InDelta(t, 55*(1.0-0.94), opp.ExpectedPnL(), 1e-9)
}

func TestEvaluate_PositionCapLimitsSize(t *testing.T) {
	pos := domain.Position{TotalCost: 80}

	// remaining 20 / 0.90 = 22.2 beats the order cap's 55.
	opp, err := Evaluate(DefaultEvalParams(), 0.40, 0.50, pos)
	require.NoError(t, err)
	assert.EqualValues(t, 22, opp.Shares)
}

func TestEvaluate_PositionLimitReached(t *testing.T) {
	_, err := Evaluate(DefaultEvalParams(), 0.40, 0.50, domain.Position{TotalCost: 100})
	assert.ErrorIs(t, err, domain.ErrPositionLimitReached)

	// A sliver of remaining budget that floors to zero shares.
	_, err = Evaluate(DefaultEvalParams(), 0.40, 0.50, domain.Position{TotalCost: 99.5})
	assert.ErrorIs(t, err, domain.ErrPositionLimitReached)
}

func TestEvaluate_BelowMinOrder(t *testing.T) {
	// remaining 5 admits only 5 shares; 5 x 0.42 = 2.10 misses the venue
	// minimum.
	_, err := Evaluate(DefaultEvalParams(), 0.40, 0.50, domain.Position{TotalCost: 95})
	assert.ErrorIs(t, err, domain.ErrBelowMinOrder)
}

func TestEvaluate_IsPure(t *testing.T) {
	pos := domain.Position{YesShares: 10, NoShares: 10, TotalCost: 9}

	a, errA := Evaluate(DefaultEvalParams(), 0.41, 0.49, pos)
	b, errB := Evaluate(DefaultEvalParams(), 0.41, 0.49, pos)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}
