package screen

import "errors"

// Pipeline-level error taxonomy. Per-person conditions are recorded as
// flags on the person's score, never as batch errors.
var (
	// ErrModelFit indicates the optimizer did not converge within its
	// cycle budget, even after the bounded retry with perturbed starts.
	ErrModelFit = errors.New("model fit did not converge")
)

// Flag marks a per-person or per-candidate condition. Non-fatal: flagged
// persons are reported and excluded from the affected aggregate only.
type Flag string

const (
	FlagNone Flag = ""
	// FlagInsufficientData marks persons with too few valid responses to
	// be scored; eta_est is left unset and the person is excluded from
	// loss aggregation.
	FlagInsufficientData Flag = "insufficient_data"
	// FlagLowWeight marks persons whose final Stage-1 weight fell below
	// the cutoff; they are scored by the person-holdout strategy.
	FlagLowWeight Flag = "low_weight"
	// FlagExcluded marks persons removed by the selected threshold k*.
	FlagExcluded Flag = "excluded_by_threshold"
	// FlagDegenerate marks records from a run where the distance
	// distribution had near-zero variance and weights fell back to
	// uniform; the weight column is not informative for such records.
	FlagDegenerate Flag = "degenerate_distribution"
	// FlagCVInstability marks a threshold candidate skipped because its
	// fold losses were too unstable to trust.
	FlagCVInstability Flag = "cv_instability"
)
