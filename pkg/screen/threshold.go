package screen

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
)

// CandidateLoss is the cross-validated loss for one exclusion count.
type CandidateLoss struct {
	K       int     `json:"k" yaml:"k"`
	Loss    float64 `json:"loss" yaml:"loss"`
	FoldSD  float64 `json:"fold_sd" yaml:"foldSd"`
	Skipped bool    `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Flag    Flag    `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// ThresholdResult holds the selected exclusion count and the search trace.
type ThresholdResult struct {
	KStar      int             `json:"k_star" yaml:"kStar"`
	Candidates []CandidateLoss `json:"candidates" yaml:"candidates"`
	// Order is every person index sorted ascending by Stage-1 weight;
	// the first KStar entries are the excluded persons.
	Order []int `json:"-" yaml:"-"`
}

// Excluded reports whether person index pi is removed by the threshold.
func (t *ThresholdResult) Excluded(pi int) bool {
	for _, o := range t.Order[:t.KStar] {
		if o == pi {
			return true
		}
	}
	return false
}

// SelectThreshold searches exclusion counts k in {0, step, ..., kMax}:
// for each candidate the bottom-k weighted persons are dropped and the
// unweighted base model is cross-validated on the remainder. The selected
// k* is the smallest candidate whose mean out-of-fold negative
// log-likelihood is within tolerance of the minimum, which biases the
// search toward fewer exclusions.
func SelectThreshold(ctx context.Context, m *Matrix, weights []float64, p *Params) (*ThresholdResult, error) {
	n := len(m.Persons)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		wa, wb := weights[order[a]], weights[order[b]]
		if wa != wb {
			return wa < wb
		}
		return m.Persons[order[a]].ID < m.Persons[order[b]].ID
	})

	kMax := int(p.KMaxFraction * float64(n))
	step := p.KStep
	if step < 1 {
		step = max(1, n/20)
	}

	var ks []int
	for k := 0; k <= kMax; k += step {
		ks = append(ks, k)
	}

	cands := make([]CandidateLoss, len(ks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for ci, k := range ks {
		g.Go(func() error {
			cands[ci] = cvLoss(gctx, m, order[k:], k, p)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &ThresholdResult{Candidates: cands, Order: order}

	k, ok := pickK(cands, p.LossTolerance)
	if !ok {
		slog.Warn("all threshold candidates skipped, defaulting to no exclusions")
		return res, nil
	}
	res.KStar = k
	return res, nil
}

// pickK applies the conservative tie-break: the smallest candidate whose
// loss is within the relative tolerance of the minimum.
func pickK(cands []CandidateLoss, lossTol float64) (int, bool) {
	minLoss := math.Inf(1)
	for _, c := range cands {
		if !c.Skipped && c.Loss < minLoss {
			minLoss = c.Loss
		}
	}
	if math.IsInf(minLoss, 1) {
		return 0, false
	}
	tol := lossTol * math.Abs(minLoss)
	for _, c := range cands {
		if !c.Skipped && c.Loss <= minLoss+tol {
			return c.K, true
		}
	}
	return 0, false
}

// cvLoss runs the m-fold cross-validation for one candidate: refit the
// unweighted model on each training split, then score every out-of-fold
// person's responses under their own MAP latent with the fold's frozen
// item parameters.
func cvLoss(ctx context.Context, m *Matrix, retained []int, k int, p *Params) CandidateLoss {
	out := CandidateLoss{K: k}

	folds := p.Folds
	if folds > len(retained) {
		folds = len(retained)
	}
	if folds < 2 {
		out.Skipped = true
		return out
	}

	// Fold assignment depends only on the seed and the candidate, so the
	// search is reproducible regardless of candidate scheduling.
	rng := rand.New(rand.NewSource(p.Seed + 7919*int64(k)))
	perm := rng.Perm(len(retained))

	losses := make([]float64, 0, folds)
	for f := 0; f < folds; f++ {
		var train, test []int
		for j, ri := range perm {
			if j%folds == f {
				test = append(test, retained[ri])
			} else {
				train = append(train, retained[ri])
			}
		}

		sub := subMatrix(m, train)
		fr, err := FitModel(ctx, sub, nil, p, nil)
		if err != nil || !fr.Converged {
			slog.Warn("fold refit unusable, skipping threshold candidate",
				"k", k, "fold", f, "error", err)
			out.Skipped = true
			return out
		}
		prec, err := invert2(fr.Sigma)
		if err != nil {
			out.Skipped = true
			return out
		}

		var sum float64
		var cnt int
		for _, pi := range test {
			resp := activeResponses(m, pi)
			if len(resp) < p.MinItems {
				continue
			}
			etaHat := etaMAP(resp, fr.Items, [2]float64{}, prec)
			sum += -responseLogLik(resp, fr.Items, etaHat) / float64(len(resp))
			cnt++
		}
		if cnt == 0 {
			continue
		}
		losses = append(losses, sum/float64(cnt))
	}

	if len(losses) == 0 {
		out.Skipped = true
		return out
	}

	mean, sd := meanStd(losses)
	out.Loss = mean
	out.FoldSD = sd
	if sd > p.InstabilityFactor*(math.Abs(mean)+p.Epsilon) {
		slog.Warn("unstable fold losses for threshold candidate",
			"k", k, "loss", mean, "fold_sd", sd)
		out.Skipped = true
		out.Flag = FlagCVInstability
	}
	return out
}

// subMatrix shares the item bank and copies only the selected persons.
func subMatrix(m *Matrix, persons []int) *Matrix {
	sub := &Matrix{Items: m.Items, Persons: make([]Person, len(persons))}
	for i, pi := range persons {
		sub.Persons[i] = m.Persons[pi]
	}
	return sub
}

func meanStd(v []float64) (float64, float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	if len(v) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(v)-1))
}
