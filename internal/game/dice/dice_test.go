package dice_test

import (
	"testing"

	"github.com/cory-johannsen/skirmish/internal/game/dice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestParse_ValidForms(t *testing.T) {
	cases := map[string]dice.Expression{
		"d20":    {Raw: "d20", Count: 1, Sides: 20},
		"2d6":    {Raw: "2d6", Count: 2, Sides: 6},
		"1d20+3": {Raw: "1d20+3", Count: 1, Sides: 20, Modifier: 3},
		"3D4-1":  {Raw: "3D4-1", Count: 3, Sides: 4, Modifier: -1},
	}
	for in, want := range cases {
		got, err := dice.Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "20", "0d6", "2d1", "xd6", "2d6+x"} {
		_, err := dice.Parse(in)
		assert.Error(t, err, in)
	}
}

func TestRoll_WithinBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 10).Draw(rt, "count")
		sides := rapid.IntRange(2, 100).Draw(rt, "sides")
		seed := rapid.Uint64().Draw(rt, "seed")
		e := dice.Expression{Raw: "x", Count: count, Sides: sides}
		res := dice.Roll(e, dice.NewSeededSource(seed))
		require.Len(rt, res.Dice, count)
		for _, d := range res.Dice {
			assert.GreaterOrEqual(rt, d, 1)
			assert.LessOrEqual(rt, d, sides)
		}
		assert.GreaterOrEqual(rt, res.Total(), count)
	})
}

func TestSeededSource_Deterministic(t *testing.T) {
	a, b := dice.NewSeededSource(42), dice.NewSeededSource(42)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Intn(1000), b.Intn(1000))
		require.Equal(t, a.Float64(), b.Float64())
	}
}

func TestCryptoSource_Float64Range(t *testing.T) {
	src := dice.NewCryptoSource()
	for i := 0; i < 1000; i++ {
		f := src.Float64()
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)
	}
}

func TestRoller_RollsThroughSource(t *testing.T) {
	r := dice.NewRoller(dice.NewSeededSource(7), zap.NewNop())
	res := r.Roll(dice.MustParse("1d20+2"))
	assert.Equal(t, 2, res.Modifier)
	assert.GreaterOrEqual(t, res.Total(), 3)
	assert.LessOrEqual(t, res.Total(), 22)
}
