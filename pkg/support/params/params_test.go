package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParams() *Params {
	return New(map[string]any{
		"max_tokens": 0,
		"seed":       uint64(0),
		"lambdas":    []float64{0.1, 0.3, 0.6},
		"strategy":   "fixed_priority",
		"verbose":    false,
		"ids":        []int{},
		"tags":       []string{"a"},
	})
}

func TestGetSet(t *testing.T) {
	p := newTestParams()
	assert.Equal(t, 0, GetOr(p, "max_tokens", 10))
	assert.Equal(t, 10, GetOr(p, "missing", 10))

	p.Set("max_tokens", 200)
	assert.Equal(t, 200, MustGet[int](p, "max_tokens"))

	// Conversion between numeric types.
	assert.Equal(t, 200.0, MustGet[float64](p, "max_tokens"))
	assert.Equal(t, int64(200), GetOr(p, "max_tokens", int64(0)))

	_, err := Get[int](p, "strategy")
	require.Error(t, err)
	_, err = Get[int](p, "missing")
	require.Error(t, err)
	assert.Panics(t, func() { MustGet[int](p, "missing") })

	p.Set("nothing", nil)
	assert.Equal(t, "x", GetOr(p, "nothing", "x"))

	clone := p.Clone()
	clone.Set("max_tokens", 1)
	assert.Equal(t, 200, MustGet[int](p, "max_tokens"))
	assert.True(t, clone.Has("lambdas"))
	assert.False(t, clone.Has("missing"))
}

func TestSetFromString(t *testing.T) {
	p := newTestParams()
	require.NoError(t, p.SetFromString("max_tokens", "1_000"))
	assert.Equal(t, 1000, MustGet[int](p, "max_tokens"))
	require.NoError(t, p.SetFromString("seed", "42"))
	assert.Equal(t, uint64(42), MustGet[uint64](p, "seed"))
	require.NoError(t, p.SetFromString("lambdas", "0.2, 0.3,0.5"))
	assert.Equal(t, []float64{0.2, 0.3, 0.5}, MustGet[[]float64](p, "lambdas"))
	require.NoError(t, p.SetFromString("strategy", "greedy_earliest"))
	assert.Equal(t, "greedy_earliest", MustGet[string](p, "strategy"))
	require.NoError(t, p.SetFromString("verbose", "true"))
	assert.True(t, MustGet[bool](p, "verbose"))
	require.NoError(t, p.SetFromString("ids", "1,2_000"))
	assert.Equal(t, []int{1, 2000}, MustGet[[]int](p, "ids"))
	require.NoError(t, p.SetFromString("tags", "x,y"))
	assert.Equal(t, []string{"x", "y"}, MustGet[[]string](p, "tags"))

	require.Error(t, p.SetFromString("unknown", "1"))
	require.Error(t, p.SetFromString("max_tokens", "many"))
	require.Error(t, p.SetFromString("lambdas", "0.1,x"))
	require.Error(t, p.SetFromString("seed", "-1"))
	assert.Equal(t, uint64(42), MustGet[uint64](p, "seed"), "failed parsing must not change the value")
}

func TestString(t *testing.T) {
	p := New(map[string]any{"b": []float64{0.5, 0.5}, "a": 3, "c": "x"})
	assert.Equal(t, "a=3;b=0.5,0.5;c=x", p.String())

	var keys []string
	p.Enumerate(func(key string, value any) { keys = append(keys, key) })
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}
