package quantization

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcrustesRotationIsOrthonormal(t *testing.T) {
	const dim = 6

	rng := rand.New(rand.NewSource(23))
	m := make([][]float32, dim)
	for i := range m {
		m[i] = make([]float32, dim)
		for j := range m[i] {
			m[i][j] = rng.Float32()*2 - 1
		}
	}

	r, err := procrustesRotation(m)
	require.NoError(t, err)

	// R^T * R should be the identity.
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			var dot float32
			for k := 0; k < dim; k++ {
				dot += r[k][i] * r[k][j]
			}
			want := float32(0)
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, dot, 1e-3)
		}
	}

	// A proper rotation, not a reflection.
	assert.InDelta(t, 1, determinant(r), 1e-3)
}

func TestProcrustesRotationRejectsNonSquare(t *testing.T) {
	_, err := procrustesRotation([][]float32{{1, 2, 3}, {4, 5, 6}})
	assert.Error(t, err)
}

func TestRotateUnrotateRoundTrip(t *testing.T) {
	const dim = 6

	rng := rand.New(rand.NewSource(29))
	m := make([][]float32, dim)
	for i := range m {
		m[i] = make([]float32, dim)
		for j := range m[i] {
			m[i][j] = rng.Float32()*2 - 1
		}
	}

	r, err := procrustesRotation(m)
	require.NoError(t, err)
	rot := flatten(r)

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}

	rotated := make([]float32, dim)
	back := make([]float32, dim)
	rotateVector(vec, rotated, rot, dim)
	unrotateVector(rotated, back, rot, dim)

	for i := range vec {
		assert.InDelta(t, vec[i], back[i], 1e-4)
	}
}
