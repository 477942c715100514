package market

import (
	"errors"
	"testing"

	"playtokens/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwapAmount(t *testing.T) {
	tests := []struct {
		amount   int64
		from, to string
		want     int64
	}{
		{amount: 10, from: "2.0", to: "4.0", want: 5},
		{amount: 3, from: "45.50", to: "42.75", want: 3},
		{amount: 7, from: "1.00", to: "3.00", want: 2},
		{amount: 1, from: "1.00", to: "50.00", want: 0},
	}
	for _, tc := range tests {
		got, err := SwapAmount(tc.amount, decimal.RequireFromString(tc.from), decimal.RequireFromString(tc.to))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "amount=%d from=%s to=%s", tc.amount, tc.from, tc.to)
	}

	_, err := SwapAmount(10, decimal.NewFromInt(2), decimal.Zero)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNotional(t *testing.T) {
	assert.Equal(t, "7.5", Notional(3, decimal.RequireFromString("2.50")).String())
	assert.Equal(t, "0.33", Notional(1, decimal.RequireFromString("0.333")).String())
}

func TestEstimatedYield(t *testing.T) {
	// 100 tokens at 3.65, 10% APY, 365 days => 36.50.
	got := EstimatedYield(100, decimal.RequireFromString("3.65"), decimal.NewFromInt(10), 365)
	assert.True(t, got.Equal(decimal.RequireFromString("36.50")), "got %s", got)

	got = EstimatedYield(50, decimal.NewFromInt(2), decimal.NewFromInt(20), 0)
	assert.True(t, got.IsZero())
}

func TestParseSport(t *testing.T) {
	s, err := ParseSport(" nba ")
	require.NoError(t, err)
	assert.Equal(t, store.SportNBA, s)

	s, err = ParseSport("")
	require.NoError(t, err)
	assert.Equal(t, store.Sport(""), s)

	_, err = ParseSport("MLB")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrorClassifiers(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), ErrLockPeriodActive)
	assert.True(t, IsBusinessRule(wrapped))
	assert.False(t, IsNotFound(wrapped))

	assert.True(t, IsNotFound(store.ErrNotFound))
	assert.True(t, IsNotFound(ErrPlanNotFound))
	assert.True(t, IsValidation(invalid("amount must be > %d", 0)))
	assert.False(t, IsValidation(ErrInsufficientBalance))
}

func TestParseRequirementCoversEveryKind(t *testing.T) {
	for _, r := range Requirements() {
		got, ok := ParseRequirement(r.Tag())
		require.True(t, ok, r.Tag())
		assert.Equal(t, r, got)
	}
	_, ok := ParseRequirement("total_yachts")
	assert.False(t, ok)
}
