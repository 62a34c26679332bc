package monitor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testThresholds() ThresholdConfig {
	return ThresholdConfig{
		Buy:           decimal.NewFromFloat(-5),
		MajorBuy:      decimal.NewFromFloat(-15),
		Sell:          decimal.NewFromFloat(8),
		MajorSell:     decimal.NewFromFloat(20),
		EmergencyStop: decimal.NewFromFloat(-30),
	}
}

func TestClassifyScenarios(t *testing.T) {
	cfg := testThresholds()

	cases := []struct {
		change string
		want   AlertTier
	}{
		{"-6.0", TierBuy},
		{"-16.0", TierMajorBuy},
		{"-5", TierBuy},
		{"-15", TierMajorBuy},
		{"-30", TierEmergencyStop},
		{"-45.2", TierEmergencyStop},
		{"-4.99", TierNone},
		{"0", TierNone},
		{"7.99", TierNone},
		{"8", TierSell},
		{"19.9", TierSell},
		{"20", TierMajorSell},
		{"250", TierMajorSell},
	}
	for _, tc := range cases {
		got := Classify(decimal.RequireFromString(tc.change), cfg)
		assert.Equal(t, tc.want, got, "change %s", tc.change)
	}
}

func TestClassifyReturnsMostSevereTier(t *testing.T) {
	// Collapsed thresholds: several conditions hold at once.
	cfg := ThresholdConfig{
		Buy:           decimal.NewFromInt(-10),
		MajorBuy:      decimal.NewFromInt(-10),
		Sell:          decimal.NewFromInt(10),
		MajorSell:     decimal.NewFromInt(10),
		EmergencyStop: decimal.NewFromInt(-10),
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, TierEmergencyStop, Classify(decimal.NewFromInt(-10), cfg))
	assert.Equal(t, TierMajorSell, Classify(decimal.NewFromInt(10), cfg))
	assert.Equal(t, TierNone, Classify(decimal.NewFromInt(9), cfg))
}

func TestClassifySweepMatchesPrecedence(t *testing.T) {
	cfg := testThresholds()
	for i := -400; i <= 400; i++ {
		change := decimal.New(int64(i), -1)
		got := Classify(change, cfg)

		var want AlertTier
		switch {
		case change.LessThanOrEqual(cfg.EmergencyStop):
			want = TierEmergencyStop
		case change.LessThanOrEqual(cfg.MajorBuy):
			want = TierMajorBuy
		case change.LessThanOrEqual(cfg.Buy):
			want = TierBuy
		case change.GreaterThanOrEqual(cfg.MajorSell):
			want = TierMajorSell
		case change.GreaterThanOrEqual(cfg.Sell):
			want = TierSell
		default:
			want = TierNone
		}
		require.Equal(t, want, got, "change %s", change)
	}
}

func TestThresholdValidate(t *testing.T) {
	require.NoError(t, testThresholds().Validate())

	bad := []func(*ThresholdConfig){
		func(c *ThresholdConfig) { c.Buy = decimal.NewFromInt(1) },
		func(c *ThresholdConfig) { c.MajorBuy = decimal.NewFromInt(-1) },
		func(c *ThresholdConfig) { c.Sell = decimal.Zero },
		func(c *ThresholdConfig) { c.MajorSell = decimal.NewFromInt(5) },
		func(c *ThresholdConfig) { c.EmergencyStop = decimal.NewFromInt(-10) },
	}
	for i, mutate := range bad {
		cfg := testThresholds()
		mutate(&cfg)
		err := cfg.Validate()
		require.Error(t, err, "case %d", i)
		assert.ErrorIs(t, err, ErrConfigInvalid)
	}
}

func TestTierCategory(t *testing.T) {
	for _, tier := range []AlertTier{TierBuy, TierMajorBuy, TierSell, TierMajorSell} {
		assert.Equal(t, CategoryDirectional, tier.Category())
	}
	assert.Equal(t, CategoryEmergency, TierEmergencyStop.Category())
	assert.Equal(t, Category(""), TierNone.Category())
	assert.Len(t, CategoryDirectional.Tiers(), 4)
}
