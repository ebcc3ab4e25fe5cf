// Package backoff generates the delays inserted between retries of
// connection establishment and table-existence polling.
//
// The sequence starts at Initial, multiplies by Factor for Steps steps and
// then holds at the resulting ceiling forever. No delay ever exceeds
// MaxDelay. With Fuzz enabled every value
// is independently scaled into [0.5, 1.5) of its nominal size so concurrent
// callers do not retry in lockstep.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultInitial = 125 * time.Millisecond
	DefaultFactor  = 2.0
	DefaultSteps   = 13

	// MaxDelay bounds every emitted delay, fuzz included.
	MaxDelay = 24 * time.Hour

	fuzzLow  = 0.5
	fuzzHigh = 1.5
)

// Config describes the shape of a backoff sequence.
type Config struct {
	Initial time.Duration `yaml:"initial"`
	Factor  float64       `yaml:"factor"`
	Steps   int           `yaml:"steps"`
	Fuzz    bool          `yaml:"fuzz"`
}

// DefaultConfig returns the fuzzed 125ms × 2^13 sequence.
func DefaultConfig() Config {
	return Config{
		Initial: DefaultInitial,
		Factor:  DefaultFactor,
		Steps:   DefaultSteps,
		Fuzz:    true,
	}
}

// Generator is a restartable, infinite, lazily evaluated backoff sequence.
// It is not safe for concurrent use; each retry loop owns its own.
type Generator struct {
	cfg  Config
	step int
	rand func() float64
}

// New returns a Generator positioned at the start of the sequence.
// Zero-valued fields take their defaults. A negative Steps gives a flat
// sequence that never grows past Initial.
func New(cfg Config) *Generator {
	return &Generator{cfg: cfg.withDefaults(), rand: rand.Float64}
}

func (c Config) withDefaults() Config {
	if c.Initial <= 0 {
		c.Initial = DefaultInitial
	}
	if c.Factor < 1 {
		c.Factor = DefaultFactor
	}
	switch {
	case c.Steps == 0:
		c.Steps = DefaultSteps
	case c.Steps < 0:
		c.Steps = 0
	}
	return c
}

// Overflows reports whether the nominal ceiling of c, defaults applied,
// exceeds MaxDelay. Such a sequence is still usable but gets clamped.
func (c Config) Overflows() bool {
	c = c.withDefaults()
	return nominal(c.Initial, c.Factor, c.Steps) > float64(MaxDelay)
}

func nominal(initial time.Duration, factor float64, exp int) float64 {
	return float64(initial) * math.Pow(factor, float64(exp))
}

func clamp(d float64) time.Duration {
	if d >= float64(MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return MaxDelay
	}
	return time.Duration(d)
}

// Next returns the next delay in the sequence.
func (g *Generator) Next() time.Duration {
	exp := g.step
	if exp > g.cfg.Steps {
		exp = g.cfg.Steps
	} else {
		g.step++
	}

	d := nominal(g.cfg.Initial, g.cfg.Factor, exp)
	if g.cfg.Fuzz {
		d *= fuzzLow + (fuzzHigh-fuzzLow)*g.rand()
	}
	return clamp(d)
}

// Ceiling returns the nominal (unfuzzed) value the sequence settles at.
func (g *Generator) Ceiling() time.Duration {
	return clamp(nominal(g.cfg.Initial, g.cfg.Factor, g.cfg.Steps))
}

// Reset rewinds the sequence to Initial.
func (g *Generator) Reset() {
	g.step = 0
}
