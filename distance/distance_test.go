package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 2, 3, 4}, b: []float32{1, 2, 3, 4}, want: 0},
		{name: "unit apart", a: []float32{0, 0, 0, 0}, b: []float32{1, 0, 0, 0}, want: 1},
		{name: "tail handling", a: []float32{1, 1, 1, 1, 1}, b: []float32{0, 0, 0, 0, 0}, want: 5},
		{name: "negative components", a: []float32{-1, -2}, b: []float32{1, 2}, want: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, SquaredL2(tt.a, tt.b), 1e-6)
		})
	}
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3, 4, 5}
	b := []float32{5, 4, 3, 2, 1}
	assert.InDelta(t, float32(35), Dot(a, b), 1e-6)
	assert.InDelta(t, float32(0), Dot([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	norm := math.Sqrt(float64(Dot(v, v)))
	assert.InDelta(t, 1.0, norm, 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))
}

func TestNormalizeL2Copy(t *testing.T) {
	src := []float32{0, 5}
	dst, ok := NormalizeL2Copy(src)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 5}, src, "source must not be mutated")
	assert.InDelta(t, 1.0, dst[1], 1e-6)
}

func TestProvider(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	l2, err := Provider(MetricL2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, l2(a, b), 1e-6)

	cos, err := Provider(MetricCosine)
	require.NoError(t, err)
	// Orthogonal unit vectors: cosine distance 1.
	assert.InDelta(t, 1.0, cos(a, b), 1e-6)

	dot, err := Provider(MetricDot)
	require.NoError(t, err)
	// Negated similarity: identical vectors score lowest.
	assert.Less(t, dot(a, a), dot(a, b))

	_, err = Provider(Metric(99))
	require.Error(t, err)
}

func TestMetricString(t *testing.T) {
	assert.Equal(t, "L2", MetricL2.String())
	assert.Equal(t, "Cosine", MetricCosine.String())
	assert.Equal(t, "Dot", MetricDot.String())
	assert.Equal(t, "Unknown(42)", Metric(42).String())
	assert.True(t, MetricL2.Valid())
	assert.False(t, Metric(42).Valid())
}
