package screen

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Mahalanobis computes each person's squared distance from the latent
// origin under the given covariance: d_sq = eta' Sigma^-1 eta.
func Mahalanobis(eta [][2]float64, sigma *mat.SymDense) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(sigma); !ok {
		return nil, fmt.Errorf("person-effect covariance is not positive definite")
	}
	out := make([]float64, len(eta))
	v := mat.NewVecDense(2, nil)
	s := mat.NewVecDense(2, nil)
	for i, e := range eta {
		v.SetVec(0, e[0])
		v.SetVec(1, e[1])
		if err := chol.SolveVecTo(s, v); err != nil {
			return nil, fmt.Errorf("solving covariance system: %w", err)
		}
		out[i] = mat.Dot(v, s)
	}
	return out, nil
}

// EstimateCov rebuilds the screening covariance from the latent estimates
// according to the configured strategy. CovRaw returns the model
// covariance unchanged; CovTrimmed re-estimates it from the half of the
// sample with the smallest raw distances, which keeps gross outliers from
// inflating their own reference scale.
func EstimateCov(eta [][2]float64, sigma *mat.SymDense, strategy CovStrategy) (*mat.SymDense, error) {
	if strategy == CovRaw {
		return sigma, nil
	}

	dsq, err := Mahalanobis(eta, sigma)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(dsq))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return dsq[idx[a]] < dsq[idx[b]] })

	keep := len(idx) / 2
	if keep < 2 {
		return sigma, nil
	}
	return covOf(eta, idx[:keep]), nil
}

// covOf computes the 2x2 second-moment matrix of the selected etas about
// the origin, with a small ridge to keep it positive definite.
func covOf(eta [][2]float64, idx []int) *mat.SymDense {
	var s00, s01, s11 float64
	for _, i := range idx {
		s00 += eta[i][0] * eta[i][0]
		s01 += eta[i][0] * eta[i][1]
		s11 += eta[i][1] * eta[i][1]
	}
	n := float64(len(idx))
	const ridge = 1e-3
	out := mat.NewSymDense(2, nil)
	out.SetSym(0, 0, s00/n+ridge)
	out.SetSym(0, 1, s01/n)
	out.SetSym(1, 1, s11/n+ridge)
	return out
}
