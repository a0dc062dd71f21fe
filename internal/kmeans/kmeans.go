// Package kmeans implements Lloyd's algorithm with k-means++ seeding.
// It operates on flat float32 slices (n*dim) to avoid per-vector allocations
// and takes an explicit RNG so codebook training is reproducible.
package kmeans

import (
	"math"
	"math/rand"

	"github.com/hupe1980/proxima/distance"
)

// Train clusters the n=len(vectors)/dim points into k centroids and returns
// them flattened (k*dim). It returns nil if there are fewer points than
// centroids; callers decide whether that is an error.
func Train(vectors []float32, dim, k, maxIter int, rng *rand.Rand) []float32 {
	n := len(vectors) / dim
	if n < k || k <= 0 {
		return nil
	}

	centroids := seedPlusPlus(vectors, dim, n, k, rng)

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		for i := 0; i < n; i++ {
			vec := vectors[i*dim : (i+1)*dim]
			best := Assign(vec, centroids, dim)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		clear(sums)
		clear(counts)

		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			row := sums[c*dim : (c+1)*dim]
			for d, v := range vec {
				row[d] += v
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				// Reseed empty clusters from a random point so every
				// centroid index remains a valid code.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
				continue
			}
			scale := 1.0 / float32(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = sums[j*dim+d] * scale
			}
		}
	}

	return centroids
}

// seedPlusPlus picks k initial centroids with k-means++ sampling:
// each subsequent centroid is drawn proportionally to the squared distance
// from the nearest centroid chosen so far.
func seedPlusPlus(vectors []float32, dim, n, k int, rng *rand.Rand) []float32 {
	centroids := make([]float32, k*dim)

	first := rng.Intn(n)
	copy(centroids[0:dim], vectors[first*dim:(first+1)*dim])

	minDist := make([]float32, n)
	var sum float32
	for i := 0; i < n; i++ {
		d := distance.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[0:dim])
		minDist[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum <= 0 {
			idx := rng.Intn(n)
			copy(centroids[c*dim:(c+1)*dim], vectors[idx*dim:(idx+1)*dim])
			continue
		}

		target := rng.Float32() * sum
		var cumsum float32
		chosen := n - 1
		for i, d := range minDist {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		row := centroids[c*dim : (c+1)*dim]
		copy(row, vectors[chosen*dim:(chosen+1)*dim])

		sum = 0
		for i := 0; i < n; i++ {
			d := distance.SquaredL2(vectors[i*dim:(i+1)*dim], row)
			if d < minDist[i] {
				minDist[i] = d
			}
			sum += minDist[i]
		}
	}

	return centroids
}

// Assign returns the index of the centroid nearest to vec.
// Ties break toward the lower index so encoding is deterministic.
func Assign(vec, centroids []float32, dim int) int {
	k := len(centroids) / dim
	best := 0
	minDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := distance.SquaredL2(vec, centroids[j*dim:(j+1)*dim])
		if d < minDist {
			minDist = d
			best = j
		}
	}
	return best
}
