package config

import (
	"path/filepath"
	"testing"

	"github.com/mchmarny/sctl/pkg/screen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	dir := t.TempDir()

	c1, err := ReadOrCreate(dir)
	require.NoError(t, err)
	require.NotNil(t, c1)

	c1.Seed = 99
	c1.Folds = 10
	c1.LossTolerance = 0.02

	err = Save(dir, c1)
	require.NoError(t, err)

	c2, err := ReadOrCreate(dir)
	require.NoError(t, err)
	require.NotNil(t, c2)
	assert.Equal(t, c1.Seed, c2.Seed)
	assert.Equal(t, c1.Folds, c2.Folds)
	assert.Equal(t, c1.LossTolerance, c2.LossTolerance)
}

func TestConfig_Invalid(t *testing.T) {
	_, err := ReadOrCreate("")
	assert.Error(t, err)
	assert.Error(t, Save("", &Config{}))
	assert.Error(t, Save(t.TempDir(), nil))
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	c1, err := ReadOrCreate(dir)
	require.NoError(t, err)
	c1.Seed = 123
	require.NoError(t, Save(dir, c1))

	c2, err := Read(filepath.Join(dir, configFileName))
	require.NoError(t, err)
	assert.Equal(t, int64(123), c2.Seed)

	_, err = Read("")
	assert.Error(t, err)
	_, err = Read(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigToParams(t *testing.T) {
	def := getDefaultConfig()
	p := def.ToParams()
	assert.NoError(t, p.Validate())
	assert.Equal(t, screen.DefaultParams(), p)

	def.Seed = 7
	def.Cov = string(screen.CovTrimmed)
	p = def.ToParams()
	assert.NoError(t, p.Validate())
	assert.Equal(t, int64(7), p.Seed)
	assert.Equal(t, screen.CovTrimmed, p.Cov)

	var nilConf *Config
	assert.Equal(t, screen.DefaultParams(), nilConf.ToParams())
}

func TestConfigToParams_GuardKnobs(t *testing.T) {
	dir := t.TempDir()
	c, err := ReadOrCreate(dir)
	require.NoError(t, err)
	c.Epsilon = 0.5
	c.InstabilityFactor = 0.9
	require.NoError(t, Save(dir, c))

	got, err := Read(filepath.Join(dir, configFileName))
	require.NoError(t, err)
	p := got.ToParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, 0.5, p.Epsilon)
	assert.Equal(t, 0.9, p.InstabilityFactor)
}

func TestGetOrCreateHomeDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, created, err := GetOrCreateHomeDir("sctl-test")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, dir, ".sctl-test")

	_, created, err = GetOrCreateHomeDir("sctl-test")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = GetOrCreateHomeDir("")
	assert.Error(t, err)
}
