package screen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestFitModel_CleanSampleConverges(t *testing.T) {
	m, truth := simulate(simOptions{seed: 1, persons: 80, items: 20, rho: 0.3})
	p := fastParams()

	fr, err := FitModel(context.Background(), m, nil, p, nil)
	require.NoError(t, err)
	assert.True(t, fr.Converged, "fit should converge within %d cycles", p.FitMaxCycles)
	assert.LessOrEqual(t, fr.Cycles, p.FitMaxCycles)

	// Latent estimates must track the generating latents.
	est := make([]float64, len(truth))
	gen := make([]float64, len(truth))
	for i := range truth {
		est[i] = fr.Eta[i][dimDevelopmental]
		gen[i] = truth[i][dimDevelopmental]
	}
	assert.Greater(t, stat.Correlation(est, gen, nil), 0.6)

	// Covariance snapshot stays positive definite.
	_, err = invert2(fr.Sigma)
	assert.NoError(t, err)

	for _, it := range fr.Items {
		assert.GreaterOrEqual(t, it.Disc, discMin)
		assert.LessOrEqual(t, it.Disc, discMax)
	}
}

func TestFitModel_WeightedDownweightsPersons(t *testing.T) {
	m, _ := simulate(simOptions{seed: 3, persons: 60, items: 16, outliers: 6, flip: 0.3, rho: 0.3})
	p := fastParams()

	// Zeroing out the outliers' influence must still produce a valid fit.
	w := UniformWeights(len(m.Persons))
	for i := 0; i < 6; i++ {
		w[i] = 0.001
	}
	fr, err := FitModel(context.Background(), m, w, p, nil)
	require.NoError(t, err)
	assert.True(t, fr.Converged)
}

func TestFitModel_WeightLengthMismatch(t *testing.T) {
	m, _ := simulate(simOptions{seed: 5, persons: 10, items: 8, rho: 0.2})
	_, err := FitModel(context.Background(), m, []float64{1, 1}, fastParams(), nil)
	assert.Error(t, err)
}

func TestFitModel_EmptyMatrix(t *testing.T) {
	_, err := FitModel(context.Background(), &Matrix{}, nil, fastParams(), nil)
	assert.Error(t, err)
}

func TestFitModel_CanceledContext(t *testing.T) {
	m, _ := simulate(simOptions{seed: 7, persons: 20, items: 10, rho: 0.2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FitModel(ctx, m, nil, fastParams(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEtaMAP_NoResponsesStaysAtPriorMode(t *testing.T) {
	prec := [3]float64{1, 0, 1}
	eta := etaMAP(nil, nil, [2]float64{0.5, -0.5}, prec)
	// With no data the posterior mode is the prior mode.
	assert.InDelta(t, 0.0, eta[0], 1e-3)
	assert.InDelta(t, 0.0, eta[1], 1e-3)
}

func TestInvert2(t *testing.T) {
	s := estimateSigma([][2]float64{{1, 0}, {0, 1}, {1, 1}}, []float64{1, 1, 1})
	inv, err := invert2(s)
	require.NoError(t, err)
	// inv * s must equal identity.
	a, b, c := s.At(0, 0), s.At(0, 1), s.At(1, 1)
	assert.InDelta(t, 1.0, inv[0]*a+inv[1]*b, 1e-9)
	assert.InDelta(t, 0.0, inv[0]*b+inv[1]*c, 1e-9)
	assert.InDelta(t, 1.0, inv[1]*b+inv[2]*c, 1e-9)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, sigmoid(0), 1e-12)
	assert.InDelta(t, 1.0, sigmoid(40), 1e-9)
	assert.InDelta(t, 0.0, sigmoid(-40), 1e-9)
}
