package trx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallestMultiplier(minimum int) int {
	for _, n := range []int{1, 2, 4, 8, 12, 16} {
		if minimum <= n*1_920_000 {
			return n
		}
	}
	return -1
}

func TestNegotiateTableSweep(t *testing.T) {
	check := func(minimum int) {
		rate, err := Negotiate(0, minimum)
		require.NoError(t, err, "minimum %d", minimum)
		n := smallestMultiplier(minimum)
		assert.Equal(t, n, rate.Index, "minimum %d", minimum)
		assert.Equal(t, Fraction{Num: int64(n) * 1_920_000, Den: 1}, rate.Rate, "minimum %d", minimum)
	}

	for minimum := 1; minimum <= 16*BaseRate; minimum += 9973 {
		check(minimum)
	}
	for i, n := range rateMultipliers {
		check(n * BaseRate)
		if i < len(rateMultipliers)-1 {
			check(n*BaseRate + 1)
		}
	}
}

func TestNegotiateTableExhausted(t *testing.T) {
	_, err := Negotiate(0, 16*BaseRate+1)
	require.ErrorIs(t, err, ErrRateUnachievable)
}

func TestNegotiateConfiguredHalving(t *testing.T) {
	cases := []struct {
		name       string
		configured int
		minimum    int
		want       int64
	}{
		{name: "no halving needed", configured: 30_720_000, minimum: 20_000_000, want: 30_720_000},
		{name: "halves to minimum", configured: 30_720_000, minimum: 1_000_000, want: 1_920_000},
		{name: "stops at whole kHz", configured: 23_040_000, minimum: 1, want: 45_000},
		{name: "exact minimum", configured: 30_720_000, minimum: 3_840_000, want: 3_840_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, err := Negotiate(tc.configured, tc.minimum)
			require.NoError(t, err)
			assert.Equal(t, tc.want, rate.Rate.Num)
			assert.Equal(t, int64(1), rate.Rate.Den)
			assert.Zero(t, rate.Index)
		})
	}
}

func TestNegotiateConfiguredProperties(t *testing.T) {
	for _, configured := range []int{1_000, 61_440_000, 30_720_000, 15_360_000, 7_000_000, 125_000} {
		for _, minimum := range []int{1, 999, 1_000, 480_000, 1_920_000, 7_000_000} {
			if configured < minimum {
				continue
			}
			rate, err := Negotiate(configured, minimum)
			require.NoError(t, err)
			got := int(rate.Rate.Num)
			assert.LessOrEqual(t, got, configured)
			assert.GreaterOrEqual(t, got, minimum)
			assert.Zero(t, got%1000)

			reachable := false
			for v := configured; v > 0; v >>= 1 {
				if v == got {
					reachable = true
					break
				}
			}
			assert.True(t, reachable, "%d not reachable by halving %d", got, configured)
		}
	}
}

// A configured rate already below the minimum is handed back as-is rather
// than rejected; callers see an undershooting rate.
func TestNegotiateConfiguredUndershoot(t *testing.T) {
	rate, err := Negotiate(1_920_000, 3_840_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_920_000), rate.Rate.Num)
	assert.Less(t, rate.Rate.Num, int64(3_840_000))
}

func TestNegotiateConfiguredNotWholeKHz(t *testing.T) {
	rate, err := Negotiate(1_920_500, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1_920_500), rate.Rate.Num)
}

func TestFractionHz(t *testing.T) {
	assert.Equal(t, int64(30_720_000), Fraction{Num: 61_440_000, Den: 2}.Hz())
	assert.Zero(t, Fraction{Num: 1}.Hz())
}
