package screen

import (
	"fmt"
	"math"
	"math/rand"
)

// simOptions controls the synthetic response generator used by the
// engine tests.
type simOptions struct {
	seed     int64
	persons  int
	items    int     // split evenly across the two domains
	outliers int     // persons with extreme, inconsistent latents
	flip     float64 // response noise applied to outliers
	rho      float64 // latent correlation for inliers
}

// simulate generates a response matrix from the two-parameter logistic
// model. Inliers draw latents from a correlated bivariate normal; the
// first `outliers` persons get opposite-sign extreme latents plus random
// response flips, so they are both distant in the latent space and
// internally inconsistent.
func simulate(o simOptions) (*Matrix, [][2]float64) {
	rng := rand.New(rand.NewSource(o.seed))

	items := make([]Item, o.items)
	for i := range items {
		domain := DomainPsychosocial
		prefix := "ps"
		if i >= o.items/2 {
			domain = DomainDevelopmental
			prefix = "dv"
		}
		items[i] = Item{
			ID:     fmt.Sprintf("%s%02d", prefix, i),
			Domain: domain,
			Disc:   0.8 + 0.8*rng.Float64(),
			Thresh: rng.NormFloat64(),
			Active: true,
		}
	}

	// Cholesky factor of [[1, rho], [rho, 1]].
	l21 := o.rho
	l22 := math.Sqrt(1 - o.rho*o.rho)

	persons := make([]Person, o.persons)
	truth := make([][2]float64, o.persons)
	for pi := range persons {
		var eta [2]float64
		outlier := pi < o.outliers
		if outlier {
			s := 1.0
			if rng.Float64() < 0.5 {
				s = -1
			}
			eta = [2]float64{s * (4 + rng.Float64()), -s * (4 + rng.Float64())}
		} else {
			z0, z1 := rng.NormFloat64(), rng.NormFloat64()
			eta = [2]float64{z0, l21*z0 + l22*z1}
		}
		truth[pi] = eta

		resp := make([]Response, 0, len(items))
		for ii, it := range items {
			p := sigmoid(it.Disc * (eta[it.dim()] - it.Thresh))
			v := 0
			if rng.Float64() < p {
				v = 1
			}
			if outlier && rng.Float64() < o.flip {
				v = 1 - v
			}
			resp = append(resp, Response{Item: ii, Value: v})
		}
		persons[pi] = Person{
			ID:            fmt.Sprintf("p%04d", pi),
			PriorEligible: true,
			Responses:     resp,
		}
	}

	// Fitted items start from neutral parameters; the generator's true
	// values are not leaked to the fitter.
	bank := make([]Item, len(items))
	copy(bank, items)
	for i := range bank {
		bank[i].Disc = 0
		bank[i].Thresh = 0
	}

	return &Matrix{Items: bank, Persons: persons}, truth
}

// fastParams trims the fit budget for unit tests.
func fastParams() *Params {
	p := DefaultParams()
	p.FitMaxCycles = 150
	p.FitTol = 1e-4
	p.Workers = 2
	return p
}
