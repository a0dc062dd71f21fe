package quantization

import (
	"errors"
	"math"
)

// Rotation matrices are stored row-major. A vector x maps to the rotated
// space as x' = x * R, and back as x = x' * R^T.

func identity(dim int) []float32 {
	r := make([]float32, dim*dim)
	for i := 0; i < dim; i++ {
		r[i*dim+i] = 1
	}
	return r
}

func flatten(m [][]float32) []float32 {
	dim := len(m)
	out := make([]float32, dim*dim)
	for i, row := range m {
		copy(out[i*dim:], row)
	}
	return out
}

// rotateVector computes dst = src * rot.
func rotateVector(src, dst, rot []float32, dim int) {
	for j := 0; j < dim; j++ {
		dst[j] = 0
	}
	for i := 0; i < dim; i++ {
		si := src[i]
		if si == 0 {
			continue
		}
		row := rot[i*dim : (i+1)*dim]
		for j, r := range row {
			dst[j] += si * r
		}
	}
}

// unrotateVector computes dst = src * rot^T.
func unrotateVector(src, dst, rot []float32, dim int) {
	for i := 0; i < dim; i++ {
		row := rot[i*dim : (i+1)*dim]
		var sum float32
		for j, r := range row {
			sum += src[j] * r
		}
		dst[i] = sum
	}
}

// applyRotation rotates n row-major vectors from data into rotated.
func applyRotation(data, rotated, rot []float32, n, dim int) {
	for row := 0; row < n; row++ {
		rotateVector(data[row*dim:(row+1)*dim], rotated[row*dim:(row+1)*dim], rot, dim)
	}
}

// procrustesRotation solves the orthogonal Procrustes problem: given the
// correlation matrix M = X^T * Y, find the rotation R minimizing
// ||X*R - Y||_F. The solution is R = U * V^T for the SVD M = U*S*V^T,
// with a reflection correction so that det(R) = +1.
func procrustesRotation(m [][]float32) ([][]float32, error) {
	dim := len(m)
	if dim == 0 || len(m[0]) != dim {
		return nil, errors.New("quantization: procrustes requires a square matrix")
	}

	u, sigma, v := jacobiSVD(m)

	// Column of U matched to the smallest singular value; flipping it is
	// the minimal-error way to turn a reflection into a rotation.
	minIdx := 0
	for i := 1; i < dim; i++ {
		if sigma[i] < sigma[minIdx] {
			minIdx = i
		}
	}

	r := multiplyTransposed(u, v, dim)
	if determinant(r) < 0 {
		for i := 0; i < dim; i++ {
			u[i][minIdx] = -u[i][minIdx]
		}
		r = multiplyTransposed(u, v, dim)
	}

	return r, nil
}

// multiplyTransposed returns U * V^T.
func multiplyTransposed(u, v [][]float32, dim int) [][]float32 {
	r := make([][]float32, dim)
	for i := range r {
		r[i] = make([]float32, dim)
		for j := 0; j < dim; j++ {
			var sum float32
			for k := 0; k < dim; k++ {
				sum += u[i][k] * v[j][k]
			}
			r[i][j] = sum
		}
	}
	return r
}

// jacobiSVD computes A = U * S * V^T using one-sided Jacobi rotations.
// The input is modified in place (it becomes U). Suitable for the small
// square matrices that show up in rotation learning.
func jacobiSVD(a [][]float32) (u [][]float32, sigma []float32, v [][]float32) {
	n := len(a)

	v = make([][]float32, n)
	for i := range v {
		v[i] = make([]float32, n)
		v[i][i] = 1
	}
	u = a

	const tol = 1e-5
	const maxSweeps = 100

	for sweep := 0; sweep < maxSweeps; sweep++ {
		if !jacobiSweep(u, v, n, tol) {
			break
		}
	}

	sigma = make([]float32, n)
	for j := 0; j < n; j++ {
		var sum float32
		for i := 0; i < n; i++ {
			sum += u[i][j] * u[i][j]
		}
		sigma[j] = float32(math.Sqrt(float64(sum)))
		if sigma[j] > 1e-10 {
			inv := 1 / sigma[j]
			for i := 0; i < n; i++ {
				u[i][j] *= inv
			}
		}
	}

	return u, sigma, v
}

// jacobiSweep orthogonalizes every column pair once. Returns false when all
// pairs were already orthogonal within tolerance.
func jacobiSweep(u, v [][]float32, n int, tol float64) bool {
	changed := false
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			var alpha, beta, gamma float32
			for k := 0; k < n; k++ {
				alpha += u[k][i] * u[k][i]
				beta += u[k][j] * u[k][j]
				gamma += u[k][i] * u[k][j]
			}

			if alpha < 1e-12 || beta < 1e-12 {
				continue
			}
			if math.Abs(float64(gamma)) < tol*math.Sqrt(float64(alpha*beta)) {
				continue
			}

			changed = true
			jacobiRotate(u, v, n, i, j, alpha, beta, gamma)
		}
	}
	return changed
}

// jacobiRotate applies the Givens rotation that zeroes the off-diagonal
// entry for column pair (i, j) to both U and V.
func jacobiRotate(u, v [][]float32, n, i, j int, alpha, beta, gamma float32) {
	zeta := (beta - alpha) / (2 * gamma)
	var t float32
	if zeta > 0 {
		t = 1 / (zeta + float32(math.Sqrt(float64(1+zeta*zeta))))
	} else {
		t = -1 / (-zeta + float32(math.Sqrt(float64(1+zeta*zeta))))
	}
	c := 1 / float32(math.Sqrt(float64(1+t*t)))
	s := c * t

	for k := 0; k < n; k++ {
		ui, uj := u[k][i], u[k][j]
		u[k][i] = c*ui - s*uj
		u[k][j] = s*ui + c*uj
	}
	for k := 0; k < n; k++ {
		vi, vj := v[k][i], v[k][j]
		v[k][i] = c*vi - s*vj
		v[k][j] = s*vi + c*vj
	}
}

// determinant computes det via Gaussian elimination with partial pivoting.
func determinant(m [][]float32) float32 {
	n := len(m)
	tmp := make([][]float32, n)
	for i := range tmp {
		tmp[i] = make([]float32, n)
		copy(tmp[i], m[i])
	}

	det := float32(1)
	for i := 0; i < n; i++ {
		pivot := i
		for j := i + 1; j < n; j++ {
			if math.Abs(float64(tmp[j][i])) > math.Abs(float64(tmp[pivot][i])) {
				pivot = j
			}
		}
		if pivot != i {
			tmp[i], tmp[pivot] = tmp[pivot], tmp[i]
			det = -det
		}
		if tmp[i][i] == 0 {
			return 0
		}
		det *= tmp[i][i]
		for j := i + 1; j < n; j++ {
			factor := tmp[j][i] / tmp[i][i]
			for k := i + 1; k < n; k++ {
				tmp[j][k] -= factor * tmp[i][k]
			}
		}
	}
	return det
}
