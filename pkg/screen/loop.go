package screen

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// LoopState is one node of the Stage-1 reweighting state machine.
type LoopState string

const (
	StateInit      LoopState = "INIT"
	StateFit       LoopState = "FIT"
	StateDistances LoopState = "DISTANCES"
	StateGammaFit  LoopState = "GAMMA_FIT"
	StateWeights   LoopState = "WEIGHTS"
	StateCheck     LoopState = "CHECK"
	StateConverged LoopState = "CONVERGED"
	StateMaxIter   LoopState = "MAX_ITER"
)

// Stage1Result carries the stabilized weights and the final fit snapshot.
// MAX_ITER termination accepts the weights but leaves Converged false for
// diagnostics.
type Stage1Result struct {
	Fit        *FitResult
	Weights    []float64
	DSq        []float64
	Gamma      GammaFit
	Cov        *mat.SymDense
	Iterations int
	Converged  bool
	Degenerate bool
}

// RunStage1 drives the fit/weight fixed-point iteration:
// INIT -> FIT -> DISTANCES -> GAMMA_FIT -> WEIGHTS -> CHECK -> {FIT | CONVERGED | MAX_ITER}.
// Iterations are strictly sequential; the per-person weight computation
// within one iteration runs in parallel against immutable snapshots.
func RunStage1(ctx context.Context, m *Matrix, p *Params, rng *rand.Rand) (*Stage1Result, error) {
	n := len(m.Persons)
	res := &Stage1Result{}

	var (
		weights    []float64
		newWeights []float64
		iter       int
	)

	state := StateInit
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch state {
		case StateInit:
			weights = UniformWeights(n)
			state = StateFit

		case StateFit:
			iter++
			fr, err := fitWithRetry(ctx, m, weights, p, rng)
			if err != nil {
				return nil, fmt.Errorf("iteration %d: %w", iter, err)
			}
			res.Fit = fr
			state = StateDistances

		case StateDistances:
			cov, err := EstimateCov(res.Fit.Eta, res.Fit.Sigma, p.Cov)
			if err != nil {
				return nil, fmt.Errorf("iteration %d: %w", iter, err)
			}
			dsq, err := Mahalanobis(res.Fit.Eta, cov)
			if err != nil {
				return nil, fmt.Errorf("iteration %d: %w", iter, err)
			}
			res.Cov = cov
			res.DSq = dsq
			state = StateGammaFit

		case StateGammaFit:
			gf, ok := FitGammaMoM(res.DSq, p.Epsilon)
			if !ok {
				slog.Warn("degenerate distance distribution, falling back to uniform weights",
					"iteration", iter)
				res.Degenerate = true
				res.Gamma = GammaFit{}
				newWeights = UniformWeights(n)
				state = StateCheck
				continue
			}
			res.Degenerate = false
			res.Gamma = gf
			state = StateWeights

		case StateWeights:
			w, err := computeWeights(ctx, res.DSq, res.Gamma, p)
			if err != nil {
				return nil, err
			}
			RescaleMedian(w, p.WeightClipMin, p.WeightClipMax)
			newWeights = w
			state = StateCheck

		case StateCheck:
			delta := maxAbsDiff(weights, newWeights)
			weights = newWeights
			slog.Debug("reweighting iteration complete",
				"iteration", iter, "max_weight_delta", delta,
				"alpha_hat", res.Gamma.Alpha, "beta_hat", res.Gamma.Beta)
			switch {
			case delta < p.WeightTol:
				state = StateConverged
			case iter >= p.MaxIterations:
				state = StateMaxIter
			default:
				state = StateFit
			}

		case StateConverged, StateMaxIter:
			res.Weights = weights
			res.Iterations = iter
			res.Converged = state == StateConverged
			if !res.Converged {
				slog.Warn("reweighting loop hit iteration cap, accepting last weights",
					"iterations", iter)
			}
			return res, nil
		}
	}
}

// fitWithRetry wraps FitModel with the bounded non-convergence policy:
// one retry from a perturbed start, then escalate as pipeline-fatal.
func fitWithRetry(ctx context.Context, m *Matrix, weights []float64, p *Params, rng *rand.Rand) (*FitResult, error) {
	fr, err := FitModel(ctx, m, weights, p, nil)
	if err != nil {
		return nil, err
	}
	if fr.Converged {
		return fr, nil
	}

	slog.Warn("model fit did not converge, retrying with perturbed initialization",
		"cycles", fr.Cycles, "loglik", fr.LogLik)
	fr, err = FitModel(ctx, m, weights, p, perturb(fr, rng))
	if err != nil {
		return nil, err
	}
	if fr.Converged {
		return fr, nil
	}
	return nil, fmt.Errorf("%w after retry (cycles=%d loglik=%g)", ErrModelFit, fr.Cycles, fr.LogLik)
}

// computeWeights evaluates the density-ratio weight for every person in
// parallel. The Gamma snapshot is read-only, each worker writes its own
// index range, so no synchronization is needed.
func computeWeights(ctx context.Context, dsq []float64, gf GammaFit, p *Params) ([]float64, error) {
	out := make([]float64, len(dsq))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	chunk := (len(dsq) + p.Workers - 1) / p.Workers
	for lo := 0; lo < len(dsq); lo += chunk {
		hi := min(lo+chunk, len(dsq))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for i := lo; i < hi; i++ {
				out[i] = DensityRatioWeight(dsq[i], gf, p.WeightClipMin, p.WeightClipMax)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}
