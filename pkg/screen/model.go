package screen

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	etaNewtonMax = 50
	etaNewtonTol = 1e-7
	etaStepCap   = 2.0

	itemNewtonMax = 5
	itemNewtonTol = 1e-6

	discMin, discMax     = 0.2, 4.0
	threshMin, threshMax = -6.0, 6.0

	probFloor = 1e-9

	// Pseudo-count shrinking the person-effect covariance toward identity.
	sigmaShrink = 1.0
	sigmaRidge  = 1e-3
)

// FitResult is an immutable snapshot of one model fit.
type FitResult struct {
	Eta       [][2]float64
	Items     []Item
	Sigma     *mat.SymDense
	LogLik    float64
	Cycles    int
	Converged bool
}

// fitInit optionally seeds the optimizer with perturbed starting values
// for the bounded retry after a non-convergent fit.
type fitInit struct {
	eta   [][2]float64
	items []Item
}

// FitModel fits the bivariate two-parameter logistic model by alternating
// MAP updates: per-person Newton steps for the latent vector, per-item
// Fisher-scoring steps for (discrimination, threshold) under the person
// weights, and a moment update of the person-effect covariance. A nil
// weight vector means unweighted (all ones).
func FitModel(ctx context.Context, m *Matrix, weights []float64, p *Params, init *fitInit) (*FitResult, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	n := len(m.Persons)
	if weights == nil {
		weights = UniformWeights(n)
	}
	if len(weights) != n {
		return nil, fmt.Errorf("weight vector length %d does not match %d persons", len(weights), n)
	}

	eta := make([][2]float64, n)
	items := make([]Item, len(m.Items))
	copy(items, m.Items)
	for i := range items {
		items[i].Disc = 1
		items[i].Thresh = 0
	}
	if init != nil {
		copy(eta, init.eta)
		copy(items, init.items)
	}

	sigma := mat.NewSymDense(2, []float64{1, 0, 0, 1})

	var prev float64
	for cycle := 1; cycle <= p.FitMaxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prec, err := invert2(sigma)
		if err != nil {
			return nil, err
		}
		for pi := range m.Persons {
			eta[pi] = etaMAP(m.Persons[pi].Responses, items, eta[pi], prec)
		}
		updateItems(m, eta, weights, items, p.FitRidge)
		sigma = estimateSigma(eta, weights)

		ll, err := penalizedLogLik(m, eta, weights, items, sigma)
		if err != nil {
			return nil, err
		}
		if cycle > 1 && math.Abs(ll-prev)/(math.Abs(prev)+1) < p.FitTol {
			return &FitResult{
				Eta: eta, Items: items, Sigma: sigma,
				LogLik: ll, Cycles: cycle, Converged: true,
			}, nil
		}
		prev = ll
	}

	return &FitResult{
		Eta: eta, Items: items, Sigma: sigma,
		LogLik: prev, Cycles: p.FitMaxCycles, Converged: false,
	}, nil
}

// perturb returns jittered starting values derived from a failed fit.
func perturb(fr *FitResult, rng *rand.Rand) *fitInit {
	eta := make([][2]float64, len(fr.Eta))
	for i, e := range fr.Eta {
		eta[i] = [2]float64{e[0] + rng.NormFloat64()*0.1, e[1] + rng.NormFloat64()*0.1}
	}
	items := make([]Item, len(fr.Items))
	copy(items, fr.Items)
	for i := range items {
		items[i].Disc = clamp(items[i].Disc*math.Exp(rng.NormFloat64()*0.1), discMin, discMax)
		items[i].Thresh = clamp(items[i].Thresh+rng.NormFloat64()*0.2, threshMin, threshMax)
	}
	return &fitInit{eta: eta, items: items}
}

// etaMAP maximizes one person's log posterior over the latent vector with
// item parameters and prior precision held fixed. Fisher scoring with a
// capped step keeps every iterate finite.
func etaMAP(resp []Response, items []Item, start [2]float64, prec [3]float64) [2]float64 {
	eta := start
	for iter := 0; iter < etaNewtonMax; iter++ {
		var g0, g1 float64
		var i00, i01, i11 float64
		for _, r := range resp {
			it := items[r.Item]
			if !it.Active {
				continue
			}
			d := it.dim()
			z := it.Disc * (eta[d] - it.Thresh)
			pr := sigmoid(z)
			y := 0.0
			if r.Value > 0 {
				y = 1
			}
			grad := it.Disc * (y - pr)
			info := it.Disc * it.Disc * pr * (1 - pr)
			if d == dimPsychosocial {
				g0 += grad
				i00 += info
			} else {
				g1 += grad
				i11 += info
			}
		}
		// Prior N(0, Sigma) contribution.
		g0 -= prec[0]*eta[0] + prec[1]*eta[1]
		g1 -= prec[1]*eta[0] + prec[2]*eta[1]
		i00 += prec[0]
		i01 += prec[1]
		i11 += prec[2]

		det := i00*i11 - i01*i01
		if det <= 0 {
			break
		}
		d0 := (i11*g0 - i01*g1) / det
		d1 := (i00*g1 - i01*g0) / det
		norm := math.Hypot(d0, d1)
		if norm > etaStepCap {
			d0 *= etaStepCap / norm
			d1 *= etaStepCap / norm
		}
		eta[0] += d0
		eta[1] += d1
		if norm < etaNewtonTol {
			break
		}
	}
	return eta
}

// updateItems runs weighted Fisher-scoring steps for every active item's
// discrimination and threshold, with a ridge pulling toward (1, 0).
func updateItems(m *Matrix, eta [][2]float64, weights []float64, items []Item, ridge float64) {
	type obs struct {
		eta float64
		y   float64
		w   float64
	}
	byItem := make([][]obs, len(items))
	for pi, p := range m.Persons {
		for _, r := range p.Responses {
			it := items[r.Item]
			if !it.Active {
				continue
			}
			y := 0.0
			if r.Value > 0 {
				y = 1
			}
			byItem[r.Item] = append(byItem[r.Item], obs{eta: eta[pi][it.dim()], y: y, w: weights[pi]})
		}
	}

	for ii := range items {
		if !items[ii].Active || len(byItem[ii]) == 0 {
			continue
		}
		a, b := items[ii].Disc, items[ii].Thresh
		for iter := 0; iter < itemNewtonMax; iter++ {
			var ga, gb float64
			var iaa, iab, ibb float64
			for _, o := range byItem[ii] {
				z := a * (o.eta - b)
				pr := sigmoid(z)
				q := pr * (1 - pr)
				res := o.w * (o.y - pr)
				ga += res * (o.eta - b)
				gb += res * -a
				iaa += o.w * q * (o.eta - b) * (o.eta - b)
				iab += o.w * q * (o.eta - b) * -a
				ibb += o.w * q * a * a
			}
			ga -= ridge * (a - 1)
			gb -= ridge * b
			iaa += ridge
			ibb += ridge

			det := iaa*ibb - iab*iab
			if det <= 0 {
				break
			}
			da := (ibb*ga - iab*gb) / det
			db := (iaa*gb - iab*ga) / det
			a = clamp(a+da, discMin, discMax)
			b = clamp(b+db, threshMin, threshMax)
			if math.Hypot(da, db) < itemNewtonTol {
				break
			}
		}
		items[ii].Disc = a
		items[ii].Thresh = b
	}
}

// estimateSigma rebuilds the person-effect covariance from the weighted
// second moment of the latent estimates, shrunk toward identity.
func estimateSigma(eta [][2]float64, weights []float64) *mat.SymDense {
	var s00, s01, s11, wsum float64
	for i, e := range eta {
		w := weights[i]
		s00 += w * e[0] * e[0]
		s01 += w * e[0] * e[1]
		s11 += w * e[1] * e[1]
		wsum += w
	}
	denom := wsum + sigmaShrink
	out := mat.NewSymDense(2, nil)
	out.SetSym(0, 0, (s00+sigmaShrink)/denom+sigmaRidge)
	out.SetSym(0, 1, s01/denom)
	out.SetSym(1, 1, (s11+sigmaShrink)/denom+sigmaRidge)
	return out
}

// penalizedLogLik is the weighted response log-likelihood plus the latent
// prior term, used only as the outer convergence criterion.
func penalizedLogLik(m *Matrix, eta [][2]float64, weights []float64, items []Item, sigma *mat.SymDense) (float64, error) {
	prec, err := invert2(sigma)
	if err != nil {
		return 0, err
	}
	var ll float64
	for pi, p := range m.Persons {
		ll += weights[pi] * responseLogLik(p.Responses, items, eta[pi])
		e := eta[pi]
		quad := prec[0]*e[0]*e[0] + 2*prec[1]*e[0]*e[1] + prec[2]*e[1]*e[1]
		ll -= 0.5 * quad
	}
	return ll, nil
}

// responseLogLik is the Bernoulli log-likelihood of a response set under
// one latent vector.
func responseLogLik(resp []Response, items []Item, eta [2]float64) float64 {
	var ll float64
	for _, r := range resp {
		it := items[r.Item]
		if !it.Active {
			continue
		}
		pr := sigmoid(it.Disc * (eta[it.dim()] - it.Thresh))
		pr = clamp(pr, probFloor, 1-probFloor)
		if r.Value > 0 {
			ll += math.Log(pr)
		} else {
			ll += math.Log(1 - pr)
		}
	}
	return ll
}

// invert2 returns the inverse of a 2x2 symmetric matrix as (m00, m01, m11).
func invert2(s *mat.SymDense) ([3]float64, error) {
	a, b, c := s.At(0, 0), s.At(0, 1), s.At(1, 1)
	det := a*c - b*b
	if det <= 0 {
		return [3]float64{}, fmt.Errorf("covariance not positive definite (det=%g)", det)
	}
	return [3]float64{c / det, -b / det, a / det}, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
