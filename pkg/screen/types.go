// Package screen implements the respondent authenticity screening engine:
// a bivariate latent-trait model fit, Mahalanobis/Gamma density-ratio
// weighting, an iterative reweighting loop, leave-one-out cross-validation
// scoring, exclusion threshold selection, and final score classification.
package screen

import "fmt"

// Domain identifies which latent dimension an item loads on.
type Domain string

const (
	DomainPsychosocial  Domain = "psychosocial"
	DomainDevelopmental Domain = "developmental"
)

// Index positions of the two latent dimensions in an eta vector.
const (
	dimPsychosocial  = 0
	dimDevelopmental = 1
)

// Item is a survey item with its two-parameter logistic parameters.
type Item struct {
	ID     string  `json:"id" yaml:"id"`
	Domain Domain  `json:"domain" yaml:"domain"`
	Disc   float64 `json:"disc" yaml:"disc"`
	Thresh float64 `json:"thresh" yaml:"thresh"`
	Active bool    `json:"active" yaml:"active"`
}

func (i Item) dim() int {
	if i.Domain == DomainDevelopmental {
		return dimDevelopmental
	}
	return dimPsychosocial
}

// Response is one observed answer, keyed by item index into Matrix.Items.
// Values greater than zero are treated as endorsements.
type Response struct {
	Item  int `json:"item" yaml:"item"`
	Value int `json:"value" yaml:"value"`
}

// Person is one respondent with a sparse response vector.
type Person struct {
	ID            string     `json:"id" yaml:"id"`
	PriorEligible bool       `json:"prior_eligible" yaml:"priorEligible"`
	Responses     []Response `json:"responses,omitempty" yaml:"responses,omitempty"`
}

// Matrix bundles the item bank and all respondents for one screening run.
type Matrix struct {
	Items   []Item   `json:"items" yaml:"items"`
	Persons []Person `json:"persons" yaml:"persons"`
}

// Validate checks referential integrity of the response matrix.
func (m *Matrix) Validate() error {
	if m == nil {
		return fmt.Errorf("matrix is nil")
	}
	if len(m.Items) == 0 {
		return fmt.Errorf("matrix has no items")
	}
	if len(m.Persons) == 0 {
		return fmt.Errorf("matrix has no persons")
	}
	for _, p := range m.Persons {
		for _, r := range p.Responses {
			if r.Item < 0 || r.Item >= len(m.Items) {
				return fmt.Errorf("person %s references unknown item index %d", p.ID, r.Item)
			}
		}
	}
	return nil
}

// CovStrategy selects how the Mahalanobis center/covariance is estimated.
type CovStrategy string

const (
	// CovRaw uses the person-effect covariance as fitted by the model.
	CovRaw CovStrategy = "cov-raw"
	// CovTrimmed re-estimates the covariance from the half of the sample
	// with the smallest raw distances (an MCD-flavored robustification).
	CovTrimmed CovStrategy = "cov-trimmed"
)

// Params is the full configuration surface of the screening engine.
type Params struct {
	// Stage 1: iterative reweighting loop.
	MaxIterations int         `json:"max_iterations" yaml:"max_iterations"`
	WeightTol     float64     `json:"weight_tolerance" yaml:"weight_tolerance"`
	Epsilon       float64     `json:"epsilon" yaml:"epsilon"`
	WeightClipMin float64     `json:"weight_clip_min" yaml:"weight_clip_min"`
	WeightClipMax float64     `json:"weight_clip_max" yaml:"weight_clip_max"`
	Cov           CovStrategy `json:"cov_strategy" yaml:"cov_strategy"`

	// Model fitter.
	FitMaxCycles int     `json:"fit_max_cycles" yaml:"fit_max_cycles"`
	FitTol       float64 `json:"fit_tolerance" yaml:"fit_tolerance"`
	FitRidge     float64 `json:"fit_ridge" yaml:"fit_ridge"`

	// Stage 2: LOOCV scoring.
	MinItems        int     `json:"min_items" yaml:"min_items"`
	HoldoutFolds    int     `json:"holdout_folds" yaml:"holdout_folds"`
	LowWeightCutoff float64 `json:"low_weight_cutoff" yaml:"low_weight_cutoff"`

	// Stage 2: threshold selection.
	Folds             int     `json:"cv_folds" yaml:"cv_folds"`
	KStep             int     `json:"k_step" yaml:"k_step"`
	KMaxFraction      float64 `json:"k_max_fraction" yaml:"k_max_fraction"`
	LossTolerance     float64 `json:"loss_tolerance" yaml:"loss_tolerance"`
	InstabilityFactor float64 `json:"instability_factor" yaml:"instability_factor"`

	// Determinism and parallelism.
	Seed    int64 `json:"seed" yaml:"seed"`
	Workers int   `json:"workers" yaml:"workers"`
}

// DefaultParams returns the engine defaults. All knobs can be overridden
// from the config file or CLI flags.
func DefaultParams() *Params {
	return &Params{
		MaxIterations:     25,
		WeightTol:         0.01,
		Epsilon:           1e-4,
		WeightClipMin:     0.001,
		WeightClipMax:     1000,
		Cov:               CovRaw,
		FitMaxCycles:      200,
		FitTol:            1e-5,
		FitRidge:          0.5,
		MinItems:          5,
		HoldoutFolds:      5,
		LowWeightCutoff:   0.2,
		Folds:             5,
		KStep:             0, // derived from N when zero
		KMaxFraction:      0.2,
		LossTolerance:     0.01,
		InstabilityFactor: 0.5,
		Seed:              42,
		Workers:           4,
	}
}

// Validate rejects parameter combinations the engine cannot honor.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("params are nil")
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be positive, got %d", p.MaxIterations)
	}
	if p.WeightTol <= 0 {
		return fmt.Errorf("weight_tolerance must be positive, got %f", p.WeightTol)
	}
	if p.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %f", p.Epsilon)
	}
	if p.WeightClipMin <= 0 || p.WeightClipMax <= p.WeightClipMin {
		return fmt.Errorf("invalid weight clip bounds [%f, %f]", p.WeightClipMin, p.WeightClipMax)
	}
	if p.Cov != CovRaw && p.Cov != CovTrimmed {
		return fmt.Errorf("unknown covariance strategy: %s", p.Cov)
	}
	if p.MinItems < 1 {
		return fmt.Errorf("min_items must be positive, got %d", p.MinItems)
	}
	if p.HoldoutFolds < 2 {
		return fmt.Errorf("holdout_folds must be at least 2, got %d", p.HoldoutFolds)
	}
	if p.Folds < 2 {
		return fmt.Errorf("cv_folds must be at least 2, got %d", p.Folds)
	}
	if p.KMaxFraction <= 0 || p.KMaxFraction > 0.5 {
		return fmt.Errorf("k_max_fraction must be in (0, 0.5], got %f", p.KMaxFraction)
	}
	if p.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", p.Workers)
	}
	return nil
}
