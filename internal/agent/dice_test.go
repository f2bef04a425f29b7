package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTossForcedDraws(t *testing.T) {
	for _, p := range []float64{1, 2, 50, 99, 100} {
		assert.True(t, rolls(1).Toss(p), "draw 1 passes %v", p)
	}
	for _, p := range []float64{1, 50, 99} {
		assert.False(t, rolls(100).Toss(p), "draw 100 rejects %v", p)
	}
	assert.True(t, rolls(100).Toss(100))
}

func TestTossClamps(t *testing.T) {
	assert.True(t, rolls(1).Toss(0.2), "below 1 is clamped to 1")
	assert.False(t, rolls(2).Toss(-5))
	assert.True(t, rolls(100).Toss(250), "above 100 is clamped to 100")
}

func TestRollRange(t *testing.T) {
	d := NewDice(42)
	for range 1000 {
		r := d.Roll()
		if r < 1 || r > 100 {
			t.Fatalf("roll out of range: %d", r)
		}
	}
}

func TestSeededDiceIsDeterministic(t *testing.T) {
	a, b := NewDice(7), NewDice(7)
	for range 20 {
		assert.Equal(t, a.Roll(), b.Roll())
	}
}

func TestPick(t *testing.T) {
	src := draws(5)
	d := NewDiceFrom(src)
	assert.Equal(t, 2, d.Pick(3))
	assert.Equal(t, []int{3}, src.calls)
}
