package screen

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestRunStage1_CleanScenario(t *testing.T) {
	// N=50 persons, 20 items, no outliers: the loop must converge within
	// 10 iterations with all weights near one.
	m, _ := simulate(simOptions{seed: 21, persons: 50, items: 20, rho: 0.3})
	p := fastParams()
	p.MaxIterations = 10

	res, err := RunStage1(context.Background(), m, p, rand.New(rand.NewSource(p.Seed)))
	require.NoError(t, err)

	assert.True(t, res.Converged, "expected convergence within 10 iterations")
	assert.LessOrEqual(t, res.Iterations, 10)
	assert.False(t, res.Degenerate)

	assert.InDelta(t, 1.0, stat.Mean(res.Weights, nil), 0.1)
	for i, w := range res.Weights {
		assert.Greater(t, w, 0.6, "person %d", i)
		assert.Less(t, w, 1.5, "person %d", i)
	}
	for _, d := range res.DSq {
		assert.GreaterOrEqual(t, d, 0.0)
	}
	assert.Greater(t, res.Gamma.Alpha, 0.0)
	assert.Greater(t, res.Gamma.Beta, 0.0)
}

func TestRunStage1_OutliersDownweighted(t *testing.T) {
	const outliers = 20
	m, _ := simulate(simOptions{seed: 33, persons: 200, items: 20, outliers: outliers, flip: 0.25, rho: 0.3})
	p := fastParams()

	res, err := RunStage1(context.Background(), m, p, rand.New(rand.NewSource(p.Seed)))
	require.NoError(t, err)

	var below int
	for i := 0; i < outliers; i++ {
		if res.Weights[i] < 0.5 {
			below++
		}
	}
	assert.GreaterOrEqual(t, below, outliers*8/10,
		"at least 80%% of injected outliers should fall below weight 0.5, got %d", below)

	inliers := res.Weights[outliers:]
	assert.InDelta(t, 1.0, stat.Mean(inliers, nil), 0.2)

	// Outliers must sit in the weight-ascending bottom of the sample.
	var outlierMean, inlierMean float64
	for i, w := range res.Weights {
		if i < outliers {
			outlierMean += w
		} else {
			inlierMean += w
		}
	}
	outlierMean /= float64(outliers)
	inlierMean /= float64(len(m.Persons) - outliers)
	assert.Less(t, outlierMean, inlierMean)
}

func TestRunStage1_Deterministic(t *testing.T) {
	run := func() *Stage1Result {
		m, _ := simulate(simOptions{seed: 9, persons: 60, items: 16, outliers: 5, flip: 0.25, rho: 0.3})
		p := fastParams()
		res, err := RunStage1(context.Background(), m, p, rand.New(rand.NewSource(p.Seed)))
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Iterations, b.Iterations)
	assert.Equal(t, a.Converged, b.Converged)
	require.Equal(t, len(a.Weights), len(b.Weights))
	for i := range a.Weights {
		assert.Equal(t, a.Weights[i], b.Weights[i], "weight %d must be bit-identical", i)
	}
}

func TestRunStage1_DegenerateDistribution(t *testing.T) {
	// Every person gives the same responses: all latent estimates, and
	// therefore all distances, collapse to one point. The loop must not
	// divide by the vanishing variance; it falls back to uniform weights.
	items := []Item{
		{ID: "ps0", Domain: DomainPsychosocial, Active: true},
		{ID: "ps1", Domain: DomainPsychosocial, Active: true},
		{ID: "dv0", Domain: DomainDevelopmental, Active: true},
		{ID: "dv1", Domain: DomainDevelopmental, Active: true},
	}
	persons := make([]Person, 20)
	for i := range persons {
		persons[i] = Person{
			ID:            string(rune('a' + i)),
			PriorEligible: true,
			Responses: []Response{
				{Item: 0, Value: 1}, {Item: 1, Value: 0},
				{Item: 2, Value: 1}, {Item: 3, Value: 0},
			},
		}
	}
	m := &Matrix{Items: items, Persons: persons}
	p := fastParams()

	res, err := RunStage1(context.Background(), m, p, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.True(t, res.Degenerate)
	assert.True(t, res.Converged)
	for _, w := range res.Weights {
		assert.Equal(t, 1.0, w)
	}
}

func TestMaxAbsDiff(t *testing.T) {
	assert.Equal(t, 0.5, maxAbsDiff([]float64{1, 2, 3}, []float64{1, 2.5, 3.1}))
	assert.Equal(t, 0.0, maxAbsDiff(nil, nil))
}
