package screen

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// PersonFlag pairs a person with the reason they were flagged or excluded.
type PersonFlag struct {
	ID     string `json:"id" yaml:"id"`
	Reason Flag   `json:"reason" yaml:"reason"`
}

// Report is the user-visible summary of one screening run.
type Report struct {
	Persons    int             `json:"persons" yaml:"persons"`
	Items      int             `json:"items" yaml:"items"`
	Converged  bool            `json:"converged" yaml:"converged"`
	Iterations int             `json:"iterations" yaml:"iterations"`
	Degenerate bool            `json:"degenerate,omitempty" yaml:"degenerate,omitempty"`
	AlphaHat   float64         `json:"alpha_hat" yaml:"alphaHat"`
	BetaHat    float64         `json:"beta_hat" yaml:"betaHat"`
	KStar      int             `json:"k_star" yaml:"kStar"`
	Excluded   int             `json:"excluded" yaml:"excluded"`
	Flagged    []PersonFlag    `json:"flagged,omitempty" yaml:"flagged,omitempty"`
	Candidates []CandidateLoss `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Duration   string          `json:"duration" yaml:"duration"`
}

// Result bundles the persisted records with the run report and the
// intermediate artifacts useful for diagnostics.
type Result struct {
	Records   []Record         `json:"records" yaml:"records"`
	Report    *Report          `json:"report" yaml:"report"`
	Stage1    *Stage1Result    `json:"-" yaml:"-"`
	Scores    []PersonScore    `json:"-" yaml:"-"`
	Threshold *ThresholdResult `json:"-" yaml:"-"`
}

// Run executes the full screening pipeline: the Stage-1 reweighting loop,
// then LOOCV scoring, threshold selection, and classification. Per-person
// issues are recorded in the report and never abort the batch; only a
// non-convergent model fit (after its bounded retry) is fatal. Callers
// bound the whole run with a context deadline, not individual stages.
func Run(ctx context.Context, m *Matrix, p *Params) (*Result, error) {
	started := time.Now()

	if p == nil {
		p = DefaultParams()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(p.Seed))

	slog.Info("stage 1: iterative reweighting",
		"persons", len(m.Persons), "items", len(m.Items), "max_iterations", p.MaxIterations)
	s1, err := RunStage1(ctx, m, p, rng)
	if err != nil {
		return nil, fmt.Errorf("stage 1: %w", err)
	}

	slog.Info("stage 2: leave-one-out cross-validation", "persons", len(m.Persons))
	scores, err := RunLOOCV(ctx, m, s1, p)
	if err != nil {
		return nil, fmt.Errorf("loocv: %w", err)
	}

	slog.Info("stage 2: threshold selection")
	thr, err := SelectThreshold(ctx, m, s1.Weights, p)
	if err != nil {
		return nil, fmt.Errorf("threshold selection: %w", err)
	}

	records := BuildRecords(m, s1, scores, thr)

	report := &Report{
		Persons:    len(m.Persons),
		Items:      len(m.Items),
		Converged:  s1.Converged,
		Iterations: s1.Iterations,
		Degenerate: s1.Degenerate,
		AlphaHat:   s1.Gamma.Alpha,
		BetaHat:    s1.Gamma.Beta,
		KStar:      thr.KStar,
		Excluded:   thr.KStar,
		Candidates: thr.Candidates,
		Duration:   time.Since(started).String(),
	}
	for _, rec := range records {
		if rec.Flag != FlagNone {
			report.Flagged = append(report.Flagged, PersonFlag{ID: rec.PersonID, Reason: rec.Flag})
		}
	}

	slog.Info("screening complete",
		"converged", report.Converged, "iterations", report.Iterations,
		"k_star", report.KStar, "flagged", len(report.Flagged),
		"duration", report.Duration)

	return &Result{
		Records:   records,
		Report:    report,
		Stage1:    s1,
		Scores:    scores,
		Threshold: thr,
	}, nil
}
