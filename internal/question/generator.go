package question

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Operand ranges, inclusive.
const (
	FirstMin  = 1
	FirstMax  = 20
	SecondMin = 1
	SecondMax = 10
)

// Generator produces "a + b = ?" questions. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a generator seeded from the clock.
func New() *Generator {
	seed := uint64(time.Now().UnixNano())
	return NewSeeded(seed, seed>>1|1)
}

// NewSeeded returns a deterministic generator, mostly for tests.
func NewSeeded(seed1, seed2 uint64) *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(seed1, seed2))}
}

// Generate returns the question text and its answer.
func (g *Generator) Generate() (string, int) {
	g.mu.Lock()
	a := FirstMin + g.rnd.IntN(FirstMax-FirstMin+1)
	b := SecondMin + g.rnd.IntN(SecondMax-SecondMin+1)
	g.mu.Unlock()
	return Format(a, b), a + b
}

// Format renders the question text for operands a and b.
func Format(a, b int) string { return fmt.Sprintf("%d + %d = ?", a, b) }
