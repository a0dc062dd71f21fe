package quantization

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/hupe1980/proxima/distance"
)

// minScalarSamples is the smallest sample that gives usable per-dimension bounds.
const minScalarSamples = 2

// ScalarQuantizer implements 8-bit scalar quantization.
// It compresses float32 vectors (4 bytes/dim) to uint8 (1 byte/dim) using
// per-dimension min/max bounds, which preserves recall much better than a
// single global range.
type ScalarQuantizer struct {
	dimension int
	mins      []float32
	maxs      []float32
	scales    []float32 // 255 / (max - min)
	invScales []float32 // (max - min) / 255
	trained   bool
}

// NewScalarQuantizer creates an untrained 8-bit scalar quantizer.
func NewScalarQuantizer(dimension int) *ScalarQuantizer {
	return &ScalarQuantizer{dimension: dimension}
}

// Kind returns KindScalar.
func (sq *ScalarQuantizer) Kind() Kind { return KindScalar }

// Trained reports whether Train has completed.
func (sq *ScalarQuantizer) Trained() bool { return sq.trained }

// CodeSize returns one byte per dimension.
func (sq *ScalarQuantizer) CodeSize() int { return sq.dimension }

// Train finds per-dimension min/max bounds across the sample.
func (sq *ScalarQuantizer) Train(ctx context.Context, samples [][]float32) error {
	if len(samples) < minScalarSamples {
		return &ErrInsufficientSamples{Got: len(samples), Need: minScalarSamples}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dim := sq.dimension
	mins := make([]float32, dim)
	maxs := make([]float32, dim)
	for i := range dim {
		mins[i] = math.MaxFloat32
		maxs[i] = -math.MaxFloat32
	}

	for _, vec := range samples {
		if len(vec) != dim {
			return errors.New("quantization: inconsistent sample dimension")
		}
		for i, val := range vec {
			if val < mins[i] {
				mins[i] = val
			}
			if val > maxs[i] {
				maxs[i] = val
			}
		}
	}

	sq.setBounds(mins, maxs)
	return nil
}

func (sq *ScalarQuantizer) setBounds(mins, maxs []float32) {
	dim := sq.dimension
	sq.mins = mins
	sq.maxs = maxs
	sq.scales = make([]float32, dim)
	sq.invScales = make([]float32, dim)
	for i := range dim {
		// Constant dimensions get a tiny synthetic range so encoding
		// stays well-defined.
		if maxs[i] == mins[i] {
			maxs[i] = mins[i] + 1e-6
		}
		r := maxs[i] - mins[i]
		sq.scales[i] = 255.0 / r
		sq.invScales[i] = r / 255.0
	}
	sq.trained = true
}

// Encode maps each dimension linearly from [min, max] to [0, 255].
func (sq *ScalarQuantizer) Encode(v []float32) ([]byte, error) {
	if !sq.trained {
		return nil, ErrNotTrained
	}
	if len(v) != sq.dimension {
		return nil, errors.New("quantization: vector dimension mismatch")
	}

	code := make([]byte, sq.dimension)
	for i, val := range v {
		if val < sq.mins[i] {
			val = sq.mins[i]
		} else if val > sq.maxs[i] {
			val = sq.maxs[i]
		}
		code[i] = uint8((val-sq.mins[i])*sq.scales[i] + 0.5)
	}
	return code, nil
}

// Decode reconstructs an approximate vector from a code.
func (sq *ScalarQuantizer) Decode(code []byte) ([]float32, error) {
	if !sq.trained {
		return nil, ErrNotTrained
	}
	if len(code) != sq.dimension {
		return nil, errors.New("quantization: code length mismatch")
	}

	decoded := make([]float32, len(code))
	for i, val := range code {
		decoded[i] = float32(val)*sq.invScales[i] + sq.mins[i]
	}
	return decoded, nil
}

// scalarTable estimates query-to-code distances without decoding.
type scalarTable struct {
	sq     *ScalarQuantizer
	query  []float32
	metric distance.Metric
}

func (t *scalarTable) Distance(code []byte) float32 {
	sq := t.sq
	switch t.metric {
	case distance.MetricDot:
		var dot float32
		for i, c := range code {
			dot += t.query[i] * (float32(c)*sq.invScales[i] + sq.mins[i])
		}
		return -dot
	default:
		var dist float32
		for i, c := range code {
			d := t.query[i] - (float32(c)*sq.invScales[i] + sq.mins[i])
			dist += d * d
		}
		if t.metric == distance.MetricCosine {
			return 0.5 * dist
		}
		return dist
	}
}

// DistanceTable returns an asymmetric distance estimator for the query.
func (sq *ScalarQuantizer) DistanceTable(query []float32, metric distance.Metric) (Table, error) {
	if !sq.trained {
		return nil, ErrNotTrained
	}
	if len(query) != sq.dimension {
		return nil, errors.New("quantization: query dimension mismatch")
	}
	return &scalarTable{sq: sq, query: query, metric: metric}, nil
}

// MarshalBinary serializes the trained bounds.
//
// Format (little-endian):
//
//	[version:u8][dimension:u32]
//	[min_0:f32][max_0:f32]...[min_D-1:f32][max_D-1:f32]
func (sq *ScalarQuantizer) MarshalBinary() ([]byte, error) {
	if !sq.trained {
		return nil, ErrNotTrained
	}

	buf := make([]byte, 5+sq.dimension*8)
	buf[0] = scalarFormatVersion
	binary.LittleEndian.PutUint32(buf[1:5], uint32(sq.dimension))

	off := 5
	for i := 0; i < sq.dimension; i++ {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(sq.mins[i]))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(sq.maxs[i]))
		off += 8
	}
	return buf, nil
}

const scalarFormatVersion = 1

// UnmarshalBinary restores a trained quantizer from MarshalBinary output.
func (sq *ScalarQuantizer) UnmarshalBinary(data []byte) error {
	if len(data) < 5 {
		return errors.New("quantization: scalar codebook truncated")
	}
	if data[0] != scalarFormatVersion {
		return errors.New("quantization: unsupported scalar codebook version")
	}

	dim := int(binary.LittleEndian.Uint32(data[1:5]))
	if len(data) != 5+dim*8 {
		return errors.New("quantization: scalar codebook length mismatch")
	}

	mins := make([]float32, dim)
	maxs := make([]float32, dim)
	off := 5
	for i := 0; i < dim; i++ {
		mins[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		maxs[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:]))
		off += 8
	}

	sq.dimension = dim
	sq.setBounds(mins, maxs)
	return nil
}
