package quantization

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"runtime"

	"github.com/hupe1980/proxima/distance"
	"github.com/hupe1980/proxima/internal/kmeans"
	"golang.org/x/sync/errgroup"
)

// opqIterations is the number of alternating codebook/rotation refinements
// when a learned rotation is enabled.
const opqIterations = 5

// ProductQuantizer implements product quantization (PQ).
// It splits vectors into M contiguous sub-vectors and quantizes each against
// an independently trained centroid set, yielding M-byte codes.
//
// With Rotate enabled, a learned orthonormal rotation is applied before the
// split (OPQ), balancing variance across sub-quantizer slots and reducing
// quantization error versus axis-aligned splits.
type ProductQuantizer struct {
	dimension     int
	numSubvectors int // M
	numCentroids  int // K = 2^Bits
	subvectorDim  int // D/M
	cfg           Config

	centroids []float32 // M * K * subvectorDim
	rotation  []float32 // dimension * dimension row-major, nil if disabled
	trained   bool
}

// NewProductQuantizer creates an untrained PQ quantizer.
// The dimension must be divisible by cfg.Subvectors.
func NewProductQuantizer(dimension int, cfg Config) (*ProductQuantizer, error) {
	cfg = cfg.withDefaults()
	if dimension <= 0 {
		return nil, errors.New("quantization: dimension must be positive")
	}
	if dimension%cfg.Subvectors != 0 {
		return nil, errors.New("quantization: dimension must be divisible by subvector count")
	}

	return &ProductQuantizer{
		dimension:     dimension,
		numSubvectors: cfg.Subvectors,
		numCentroids:  1 << cfg.Bits,
		subvectorDim:  dimension / cfg.Subvectors,
		cfg:           cfg,
	}, nil
}

// Kind returns KindProduct.
func (pq *ProductQuantizer) Kind() Kind { return KindProduct }

// Trained reports whether Train has completed.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// CodeSize returns one byte per sub-quantizer.
func (pq *ProductQuantizer) CodeSize() int { return pq.numSubvectors }

// NumCentroids returns the centroid count per sub-quantizer slot.
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// Train calibrates the codebooks (and rotation, if enabled) on the sample.
func (pq *ProductQuantizer) Train(ctx context.Context, samples [][]float32) error {
	need := pq.cfg.MinTrainFactor * pq.numCentroids
	if len(samples) < need {
		return &ErrInsufficientSamples{Got: len(samples), Need: need}
	}
	for _, v := range samples {
		if len(v) != pq.dimension {
			return errors.New("quantization: inconsistent sample dimension")
		}
	}

	n := len(samples)
	data := make([]float32, n*pq.dimension)
	for i, v := range samples {
		copy(data[i*pq.dimension:], v)
	}

	if pq.cfg.Rotate {
		if err := pq.trainRotated(ctx, data, n); err != nil {
			return err
		}
	} else {
		centroids, err := pq.trainCodebooks(ctx, data, n)
		if err != nil {
			return err
		}
		pq.centroids = centroids
	}

	pq.trained = true
	return nil
}

// trainRotated alternates codebook training and rotation refinement:
// rotate the sample, fit codebooks, then solve the orthogonal Procrustes
// problem between the rotated sample and its reconstruction.
func (pq *ProductQuantizer) trainRotated(ctx context.Context, data []float32, n int) error {
	dim := pq.dimension
	rot := identity(dim)
	rotated := make([]float32, len(data))

	for iter := 0; iter < opqIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		applyRotation(data, rotated, rot, n, dim)

		centroids, err := pq.trainCodebooks(ctx, rotated, n)
		if err != nil {
			return err
		}
		pq.centroids = centroids

		if iter == opqIterations-1 {
			break
		}

		// M = X^T * Recon, where Recon reconstructs the rotated sample.
		m := make([][]float32, dim)
		for i := range m {
			m[i] = make([]float32, dim)
		}
		recon := make([]float32, dim)
		scratch := make([]byte, pq.numSubvectors)
		for row := 0; row < n; row++ {
			x := data[row*dim : (row+1)*dim]
			pq.reconstructRotated(rotated[row*dim:(row+1)*dim], scratch, recon)
			for i := range dim {
				xi := x[i]
				if xi == 0 {
					continue
				}
				mi := m[i]
				for j := range dim {
					mi[j] += xi * recon[j]
				}
			}
		}

		next, err := procrustesRotation(m)
		if err != nil {
			return err
		}
		rot = flatten(next)
	}

	pq.rotation = rot
	return nil
}

// trainCodebooks fits one centroid set per sub-vector slot, in parallel.
func (pq *ProductQuantizer) trainCodebooks(ctx context.Context, data []float32, n int) ([]float32, error) {
	dim := pq.dimension
	subDim := pq.subvectorDim
	k := pq.numCentroids
	centroids := make([]float32, pq.numSubvectors*k*subDim)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for m := 0; m < pq.numSubvectors; m++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			sub := make([]float32, n*subDim)
			start := m * subDim
			for row := 0; row < n; row++ {
				copy(sub[row*subDim:], data[row*dim+start:row*dim+start+subDim])
			}

			rng := rand.New(rand.NewSource(pq.cfg.Seed + int64(m)))
			cb := kmeans.Train(sub, subDim, k, pq.cfg.MaxIterations, rng)
			if cb == nil {
				return &ErrInsufficientSamples{Got: n, Need: k}
			}
			copy(centroids[m*k*subDim:], cb)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return centroids, nil
}

// Encode assigns each sub-vector to its nearest centroid index.
func (pq *ProductQuantizer) Encode(v []float32) ([]byte, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(v) != pq.dimension {
		return nil, errors.New("quantization: vector dimension mismatch")
	}

	vec := v
	if pq.rotation != nil {
		vec = make([]float32, pq.dimension)
		rotateVector(v, vec, pq.rotation, pq.dimension)
	}

	code := make([]byte, pq.numSubvectors)
	pq.encodeRotated(vec, code)
	return code, nil
}

// Decode reconstructs an approximate vector by concatenating centroids and
// undoing the rotation if one was learned.
func (pq *ProductQuantizer) Decode(code []byte) ([]float32, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(code) != pq.numSubvectors {
		return nil, errors.New("quantization: code length mismatch")
	}

	recon := make([]float32, pq.dimension)
	pq.concatCentroids(code, recon)
	if pq.rotation == nil {
		return recon, nil
	}

	out := make([]float32, pq.dimension)
	unrotateVector(recon, out, pq.rotation, pq.dimension)
	return out, nil
}

// encodeRotated assigns each slot of a rotated-space vector to its nearest
// centroid, writing one byte per slot into code.
func (pq *ProductQuantizer) encodeRotated(vec []float32, code []byte) {
	subDim := pq.subvectorDim
	k := pq.numCentroids
	for m := 0; m < pq.numSubvectors; m++ {
		sub := vec[m*subDim : (m+1)*subDim]
		cb := pq.centroids[m*k*subDim : (m+1)*k*subDim]
		code[m] = byte(kmeans.Assign(sub, cb, subDim))
	}
}

// concatCentroids writes the concatenated centroids for code into dst.
// The result lives in the rotated space.
func (pq *ProductQuantizer) concatCentroids(code []byte, dst []float32) {
	subDim := pq.subvectorDim
	k := pq.numCentroids
	for m, c := range code {
		src := pq.centroids[(m*k+int(c))*subDim : (m*k+int(c)+1)*subDim]
		copy(dst[m*subDim:], src)
	}
}

// reconstructRotated round-trips a rotated-space vector through the current
// codebooks: encode, then concatenate the matched centroids.
func (pq *ProductQuantizer) reconstructRotated(vec []float32, code []byte, dst []float32) {
	pq.encodeRotated(vec, code)
	pq.concatCentroids(code, dst)
}

// pqTable is the classic ADC lookup table: one row of partial distances per
// sub-quantizer, summed across sub-codes per candidate.
type pqTable struct {
	lut    []float32 // M * K
	k      int
	factor float32
}

func (t *pqTable) Distance(code []byte) float32 {
	var sum float32
	k := t.k
	for m, c := range code {
		sum += t.lut[m*k+int(c)]
	}
	return sum * t.factor
}

// DistanceTable precomputes partial distances from the query to every
// centroid of every sub-quantizer. Building the table costs O(D*K); each
// candidate afterwards costs only M lookups.
func (pq *ProductQuantizer) DistanceTable(query []float32, metric distance.Metric) (Table, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(query) != pq.dimension {
		return nil, errors.New("quantization: query dimension mismatch")
	}

	q := query
	if pq.rotation != nil {
		// The rotation is orthonormal, so distances in the rotated space
		// equal distances in the original space.
		q = make([]float32, pq.dimension)
		rotateVector(query, q, pq.rotation, pq.dimension)
	}

	subDim := pq.subvectorDim
	k := pq.numCentroids
	lut := make([]float32, pq.numSubvectors*k)

	for m := 0; m < pq.numSubvectors; m++ {
		qsub := q[m*subDim : (m+1)*subDim]
		for j := 0; j < k; j++ {
			centroid := pq.centroids[(m*k+j)*subDim : (m*k+j+1)*subDim]
			if metric == distance.MetricDot {
				lut[m*k+j] = -distance.Dot(qsub, centroid)
			} else {
				lut[m*k+j] = distance.SquaredL2(qsub, centroid)
			}
		}
	}

	factor := float32(1)
	if metric == distance.MetricCosine {
		factor = 0.5
	}
	return &pqTable{lut: lut, k: k, factor: factor}, nil
}

const productFormatVersion = 1

// MarshalBinary serializes the trained codebooks and rotation.
//
// Format (little-endian):
//
//	[version:u8][dimension:u32][subvectors:u16][centroids:u16][rotated:u8]
//	[centroid floats...][rotation floats...]
func (pq *ProductQuantizer) MarshalBinary() ([]byte, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}

	rotLen := 0
	if pq.rotation != nil {
		rotLen = len(pq.rotation)
	}

	buf := make([]byte, 10+4*(len(pq.centroids)+rotLen))
	buf[0] = productFormatVersion
	binary.LittleEndian.PutUint32(buf[1:], uint32(pq.dimension))
	binary.LittleEndian.PutUint16(buf[5:], uint16(pq.numSubvectors))
	binary.LittleEndian.PutUint16(buf[7:], uint16(pq.numCentroids))
	if pq.rotation != nil {
		buf[9] = 1
	}

	off := 10
	for _, f := range pq.centroids {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	for _, f := range pq.rotation {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	return buf, nil
}

// UnmarshalBinary restores a trained quantizer from MarshalBinary output.
func (pq *ProductQuantizer) UnmarshalBinary(data []byte) error {
	if len(data) < 10 {
		return errors.New("quantization: product codebook truncated")
	}
	if data[0] != productFormatVersion {
		return errors.New("quantization: unsupported product codebook version")
	}

	dim := int(binary.LittleEndian.Uint32(data[1:]))
	m := int(binary.LittleEndian.Uint16(data[5:]))
	k := int(binary.LittleEndian.Uint16(data[7:]))
	rotated := data[9] == 1
	if m <= 0 || dim <= 0 || dim%m != 0 {
		return errors.New("quantization: invalid product codebook header")
	}

	subDim := dim / m
	centroidLen := m * k * subDim
	rotLen := 0
	if rotated {
		rotLen = dim * dim
	}
	if len(data) != 10+4*(centroidLen+rotLen) {
		return errors.New("quantization: product codebook length mismatch")
	}

	centroids := make([]float32, centroidLen)
	off := 10
	for i := range centroids {
		centroids[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		off += 4
	}
	var rotation []float32
	if rotated {
		rotation = make([]float32, rotLen)
		for i := range rotation {
			rotation[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
	}

	pq.dimension = dim
	pq.numSubvectors = m
	pq.numCentroids = k
	pq.subvectorDim = subDim
	pq.centroids = centroids
	pq.rotation = rotation
	pq.cfg = Config{Kind: KindProduct, Subvectors: m, Rotate: rotated}.withDefaults()
	pq.trained = true
	return nil
}
