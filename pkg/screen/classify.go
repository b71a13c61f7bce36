package screen

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Record is the final persisted result for one person. Nullable fields
// are pointers: they stay nil for persons that could not be scored.
type Record struct {
	PersonID       string   `json:"person_id" yaml:"personId"`
	Weight         float64  `json:"authenticity_weight" yaml:"authenticityWeight"`
	Lz             *float64 `json:"authenticity_lz,omitempty" yaml:"authenticityLz,omitempty"`
	AvgLogPost     *float64 `json:"authenticity_avg_logpost,omitempty" yaml:"authenticityAvgLogpost,omitempty"`
	Quintile       *int     `json:"authenticity_quintile,omitempty" yaml:"authenticityQuintile,omitempty"`
	EtaEst         *float64 `json:"authenticity_eta_est,omitempty" yaml:"authenticityEtaEst,omitempty"`
	Authentic      bool     `json:"authentic" yaml:"authentic"`
	MeetsInclusion bool     `json:"meets_inclusion" yaml:"meetsInclusion"`
	Flag           Flag     `json:"flag,omitempty" yaml:"flag,omitempty"`
}

// BuildRecords assembles the per-person output: the stabilized Stage-1
// weight, the standardized held-out score, the quintile bin, and the
// inclusion flags.
func BuildRecords(m *Matrix, s1 *Stage1Result, scores []PersonScore, thr *ThresholdResult) []Record {
	excluded := make(map[int]bool, thr.KStar)
	for _, pi := range thr.Order[:thr.KStar] {
		excluded[pi] = true
	}

	refMean, refSD := referenceMoments(scores, excluded)
	quintiles := quintileBins(m, scores)

	records := make([]Record, len(m.Persons))
	for pi, p := range m.Persons {
		rec := Record{
			PersonID: p.ID,
			Weight:   s1.Weights[pi],
			Flag:     scores[pi].Flag,
		}
		if excluded[pi] {
			rec.Flag = FlagExcluded
		}
		if s1.Degenerate && rec.Flag == FlagNone {
			rec.Flag = FlagDegenerate
		}
		if scores[pi].Scored {
			alp := scores[pi].AvgLogPost
			eta := scores[pi].EtaEst
			rec.AvgLogPost = &alp
			rec.EtaEst = &eta
			if refSD > 0 {
				lz := (alp - refMean) / refSD
				rec.Lz = &lz
			}
			if q, ok := quintiles[pi]; ok {
				qq := q
				rec.Quintile = &qq
			}
		}
		rec.Authentic = scores[pi].Scored && !excluded[pi]
		rec.MeetsInclusion = p.PriorEligible && !excluded[pi]
		records[pi] = rec
	}
	return records
}

// referenceMoments computes the mean and standard deviation of avg_logpost
// over the reference authentic group: item-holdout scored persons the
// threshold kept.
func referenceMoments(scores []PersonScore, excluded map[int]bool) (float64, float64) {
	var ref []float64
	for pi, s := range scores {
		if s.Scored && s.Strategy == StrategyItemHoldout && !excluded[pi] {
			ref = append(ref, s.AvgLogPost)
		}
	}
	if len(ref) < 2 {
		return 0, 0
	}
	return stat.MeanStdDev(ref, nil)
}

// quintileBins rank-partitions all scored persons into 5 near-equal
// ascending bins; bin sizes differ by at most one.
func quintileBins(m *Matrix, scores []PersonScore) map[int]int {
	var scored []int
	for pi, s := range scores {
		if s.Scored {
			scored = append(scored, pi)
		}
	}
	sort.Slice(scored, func(a, b int) bool {
		sa, sb := scores[scored[a]], scores[scored[b]]
		if sa.AvgLogPost != sb.AvgLogPost {
			return sa.AvgLogPost < sb.AvgLogPost
		}
		return m.Persons[scored[a]].ID < m.Persons[scored[b]].ID
	})

	bins := make(map[int]int, len(scored))
	for rank, pi := range scored {
		bins[pi] = rank*5/len(scored) + 1
	}
	return bins
}
