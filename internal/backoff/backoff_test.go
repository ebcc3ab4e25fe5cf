package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Deterministic(t *testing.T) {
	g := New(Config{Initial: 10 * time.Millisecond, Factor: 2, Steps: 3})

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		80 * time.Millisecond,
		80 * time.Millisecond,
	}
	for i, w := range want {
		assert.Equal(t, w, g.Next(), "value %d", i)
	}
	assert.Equal(t, 80*time.Millisecond, g.Ceiling())
}

func TestGenerator_MonotonicAndHolds(t *testing.T) {
	g := New(Config{Initial: DefaultInitial, Factor: DefaultFactor, Steps: DefaultSteps})

	prev := time.Duration(0)
	for i := 0; i < 100; i++ {
		d := g.Next()
		require.GreaterOrEqual(t, d, prev, "value %d decreased", i)
		if i >= DefaultSteps {
			assert.Equal(t, g.Ceiling(), d, "value %d should be held at the ceiling", i)
		}
		prev = d
	}
}

func TestGenerator_Reset(t *testing.T) {
	g := New(Config{Initial: time.Second, Factor: 2, Steps: 5})
	g.Next()
	g.Next()
	g.Reset()
	assert.Equal(t, time.Second, g.Next())
}

func TestGenerator_FuzzBand(t *testing.T) {
	g := New(Config{Initial: 100 * time.Millisecond, Factor: 2, Steps: -1, Fuzz: true})

	for i := 0; i < 1000; i++ {
		d := g.Next()
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}
}

func TestGenerator_FuzzUsesRandomSource(t *testing.T) {
	g := New(Config{Initial: 100 * time.Millisecond, Factor: 2, Steps: 2, Fuzz: true})
	g.rand = func() float64 { return 0 }

	assert.Equal(t, 50*time.Millisecond, g.Next())
	assert.Equal(t, 100*time.Millisecond, g.Next())
}

func TestNew_Defaults(t *testing.T) {
	g := New(Config{})
	assert.Equal(t, DefaultInitial, g.Next())
	assert.Equal(t, 2*DefaultInitial, g.Next())
	assert.Equal(t, DefaultInitial<<DefaultSteps, g.Ceiling())
	assert.Equal(t, DefaultInitial, New(Config{Steps: -1}).Ceiling())
}

func TestGenerator_LargeStepsClampToMaxDelay(t *testing.T) {
	g := New(Config{Initial: DefaultInitial, Factor: 2, Steps: 40, Fuzz: true})
	g.rand = func() float64 { return 0.999 }

	prev := time.Duration(0)
	for i := 0; i < 60; i++ {
		d := g.Next()
		require.Positive(t, d, "value %d", i)
		require.LessOrEqual(t, d, MaxDelay, "value %d", i)
		require.GreaterOrEqual(t, d, prev, "value %d decreased", i)
		prev = d
	}
	assert.Equal(t, MaxDelay, prev)
	assert.Equal(t, MaxDelay, g.Ceiling())

	g = New(Config{Initial: time.Second, Factor: 1e300, Steps: 10})
	g.Next()
	assert.Equal(t, MaxDelay, g.Next())
}

func TestConfig_Overflows(t *testing.T) {
	assert.False(t, Config{}.Overflows())
	assert.False(t, DefaultConfig().Overflows())
	assert.False(t, Config{Initial: 10 * time.Millisecond, Factor: 2, Steps: 3}.Overflows())
	assert.True(t, Config{Steps: 40}.Overflows())
	assert.True(t, Config{Initial: time.Hour, Factor: 2, Steps: 5}.Overflows())
}
