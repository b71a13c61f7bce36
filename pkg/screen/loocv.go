package screen

import (
	"context"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// Holdout strategy names, persisted with each score for diagnostics.
const (
	StrategyItemHoldout   = "item-holdout"
	StrategyPersonHoldout = "person-holdout"
)

// PersonScore is the out-of-sample result for one person. Scored is false
// when the person had too few valid responses; such persons carry the
// InsufficientData flag and are excluded from loss aggregation.
type PersonScore struct {
	Person     int     `json:"person" yaml:"person"`
	AvgLogPost float64 `json:"avg_logpost" yaml:"avgLogpost"`
	EtaEst     float64 `json:"eta_est" yaml:"etaEst"`
	HeldOut    int     `json:"held_out" yaml:"heldOut"`
	Strategy   string  `json:"strategy" yaml:"strategy"`
	Flag       Flag    `json:"flag,omitempty" yaml:"flag,omitempty"`
	Scored     bool    `json:"scored" yaml:"scored"`
}

// holdoutScorer scores one person's held-out responses against the frozen
// final item parameters. The two strategies are variants of the same
// capability, selected by the person's Stage-1 classification.
type holdoutScorer interface {
	name() string
	score(m *Matrix, pi int, fr *FitResult, prec [3]float64, p *Params) PersonScore
}

// itemHoldoutScorer folds the person's own items: the latent vector is
// refit on the retained items and the held-out items are scored under it.
// Used for candidates for the authentic pool.
type itemHoldoutScorer struct {
	seed int64
}

func (s *itemHoldoutScorer) name() string { return StrategyItemHoldout }

func (s *itemHoldoutScorer) score(m *Matrix, pi int, fr *FitResult, prec [3]float64, p *Params) PersonScore {
	resp := activeResponses(m, pi)
	out := PersonScore{Person: pi, Strategy: s.name()}

	folds := p.HoldoutFolds
	if folds > len(resp) {
		folds = len(resp)
	}

	// Fold assignment is derived from the run seed and the person index,
	// so scores do not depend on worker scheduling.
	rng := rand.New(rand.NewSource(s.seed + int64(pi)))
	perm := rng.Perm(len(resp))

	var total float64
	var held int
	train := make([]Response, 0, len(resp))
	for f := 0; f < folds; f++ {
		train = train[:0]
		var holdout []Response
		for j, ri := range perm {
			if j%folds == f {
				holdout = append(holdout, resp[ri])
			} else {
				train = append(train, resp[ri])
			}
		}
		etaHat := etaMAP(train, fr.Items, fr.Eta[pi], prec)
		total += responseLogLik(holdout, fr.Items, etaHat)
		held += len(holdout)
	}

	out.AvgLogPost = total / float64(held)
	out.HeldOut = held
	out.EtaEst = fr.Eta[pi][dimDevelopmental]
	out.Scored = true
	return out
}

// personHoldoutScorer scores the person's entire response vector against
// the frozen parameters without the person having contributed to any fit.
// Used for persons effectively excluded from the Stage-1 fit by a
// suspiciously low final weight.
type personHoldoutScorer struct{}

func (s *personHoldoutScorer) name() string { return StrategyPersonHoldout }

func (s *personHoldoutScorer) score(m *Matrix, pi int, fr *FitResult, prec [3]float64, p *Params) PersonScore {
	resp := activeResponses(m, pi)
	etaHat := etaMAP(resp, fr.Items, [2]float64{}, prec)
	return PersonScore{
		Person:     pi,
		AvgLogPost: responseLogLik(resp, fr.Items, etaHat) / float64(len(resp)),
		EtaEst:     etaHat[dimDevelopmental],
		HeldOut:    len(resp),
		Strategy:   s.name(),
		Flag:       FlagLowWeight,
		Scored:     true,
	}
}

// RunLOOCV scores every person out-of-sample under the frozen Stage-1 fit.
// Per-person refits share only read-only state and run in parallel.
func RunLOOCV(ctx context.Context, m *Matrix, s1 *Stage1Result, p *Params) ([]PersonScore, error) {
	if s1 == nil || s1.Fit == nil {
		return nil, fmt.Errorf("stage-1 result is required")
	}
	prec, err := invert2(s1.Fit.Sigma)
	if err != nil {
		return nil, err
	}

	itemScorer := &itemHoldoutScorer{seed: p.Seed}
	personScorer := &personHoldoutScorer{}

	scores := make([]PersonScore, len(m.Persons))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for pi := range m.Persons {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			resp := activeResponses(m, pi)
			if len(resp) < p.MinItems {
				scores[pi] = PersonScore{
					Person:   pi,
					Strategy: StrategyItemHoldout,
					Flag:     FlagInsufficientData,
				}
				return nil
			}
			var sc holdoutScorer = itemScorer
			if s1.Weights[pi] < p.LowWeightCutoff {
				sc = personScorer
			}
			scores[pi] = sc.score(m, pi, s1.Fit, prec, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// activeResponses returns the person's responses to active items.
func activeResponses(m *Matrix, pi int) []Response {
	var out []Response
	for _, r := range m.Persons[pi].Responses {
		if m.Items[r.Item].Active {
			out = append(out, r)
		}
	}
	return out
}
