package agent

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source yields uniform integers in [0, n).
type Source interface {
	IntN(n int) int
}

// Dice draws the pipeline's random decisions from a single seedable source.
type Dice struct {
	mu  sync.Mutex
	src Source
}

// NewDice seeds a PCG source. A zero seed uses the current time.
func NewDice(seed uint64) *Dice {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return NewDiceFrom(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

func NewDiceFrom(src Source) *Dice {
	return &Dice{src: src}
}

func (d *Dice) intN(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src.IntN(n)
}

// Roll returns an integer in [1, 100].
func (d *Dice) Roll() int {
	return d.intN(100) + 1
}

// Toss succeeds with probability p percent. p is clamped to [1, 100].
func (d *Dice) Toss(p float64) bool {
	p = min(max(p, 1), 100)
	return float64(d.Roll()) <= p
}

// Pick returns an index in [0, n). n must be positive.
func (d *Dice) Pick(n int) int {
	return d.intN(n)
}
