package screen

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// GammaFit holds method-of-moments Gamma parameters (shape alpha, rate
// beta) of the empirical squared-distance distribution. Snapshots are
// immutable: the loop builds a fresh one each iteration.
type GammaFit struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Beta  float64 `json:"beta" yaml:"beta"`
}

// refDist is the theoretical squared-distance distribution for a clean
// bivariate-normal sample: chi-square with 2 degrees of freedom, i.e.
// Gamma(shape=1, rate=1/2).
var refDist = distuv.Gamma{Alpha: 1, Beta: 0.5}

// FitGammaMoM estimates Gamma parameters from the squared distances by
// matching the first two sample moments. The eps floor guards the
// variance division. Returns ok=false when the distribution is degenerate
// (near-zero variance), in which case callers must fall back to uniform
// weights rather than trust the fit.
func FitGammaMoM(dsq []float64, eps float64) (GammaFit, bool) {
	if len(dsq) == 0 {
		return GammaFit{}, false
	}
	mean, variance := stat.MeanVariance(dsq, nil)
	if variance < eps || mean <= 0 {
		return GammaFit{}, false
	}
	return GammaFit{
		Alpha: mean * mean / (variance + eps),
		Beta:  mean / (variance + eps),
	}, true
}

// DensityRatioWeight returns the clipped ratio of the reference chi-square
// density to the fitted empirical density at one squared distance.
func DensityRatioWeight(dsq float64, gf GammaFit, clipMin, clipMax float64) float64 {
	// Gamma log-densities diverge at zero for shape != 1; keep the
	// evaluation point strictly positive.
	d := math.Max(dsq, 1e-12)
	emp := distuv.Gamma{Alpha: gf.Alpha, Beta: gf.Beta}
	w := math.Exp(refDist.LogProb(d) - emp.LogProb(d))
	if math.IsNaN(w) {
		return 1
	}
	return clamp(w, clipMin, clipMax)
}

// RescaleMedian divides the weight vector by its sample median and
// re-clips. Contaminated samples inflate the method-of-moments variance,
// which lifts every density ratio; anchoring the median keeps the bulk of
// the sample at weight 1 while preserving the ordering.
func RescaleMedian(w []float64, clipMin, clipMax float64) {
	if len(w) == 0 {
		return
	}
	tmp := make([]float64, len(w))
	copy(tmp, w)
	sort.Float64s(tmp)
	med := tmp[len(tmp)/2]
	if len(tmp)%2 == 0 {
		med = (med + tmp[len(tmp)/2-1]) / 2
	}
	if med <= clipMin {
		return
	}
	for i := range w {
		w[i] = clamp(w[i]/med, clipMin, clipMax)
	}
}

// UniformWeights is the degenerate-distribution fallback.
func UniformWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
