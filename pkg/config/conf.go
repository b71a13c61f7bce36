// Package config reads and writes the per-user screening configuration
// kept in the tool's home directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/sctl/pkg/screen"
	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"
	dirMode        = 0700
	fileMode       = 0600
)

// Config holds the tunable screening parameters. Values are persisted to
// config.yaml in the home directory so repeated runs on the same study
// use the same settings.
type Config struct {
	MaxIterations     int     `yaml:"maxIterations"`
	WeightTol         float64 `yaml:"weightTol"`
	Epsilon           float64 `yaml:"epsilon"`
	WeightClipMin     float64 `yaml:"weightClipMin"`
	WeightClipMax     float64 `yaml:"weightClipMax"`
	Cov               string  `yaml:"covStrategy"`
	MinItems          int     `yaml:"minItems"`
	HoldoutFolds      int     `yaml:"holdoutFolds"`
	LowWeightCut      float64 `yaml:"lowWeightCutoff"`
	Folds             int     `yaml:"folds"`
	KStep             int     `yaml:"kStep"`
	KMaxFraction      float64 `yaml:"kMaxFraction"`
	LossTolerance     float64 `yaml:"lossTolerance"`
	InstabilityFactor float64 `yaml:"instabilityFactor"`
	Seed              int64   `yaml:"seed"`
	Workers           int     `yaml:"workers"`
}

func getDefaultConfig() *Config {
	p := screen.DefaultParams()
	return &Config{
		MaxIterations:     p.MaxIterations,
		WeightTol:         p.WeightTol,
		Epsilon:           p.Epsilon,
		WeightClipMin:     p.WeightClipMin,
		WeightClipMax:     p.WeightClipMax,
		Cov:               string(p.Cov),
		MinItems:          p.MinItems,
		HoldoutFolds:      p.HoldoutFolds,
		LowWeightCut:      p.LowWeightCutoff,
		Folds:             p.Folds,
		KStep:             p.KStep,
		KMaxFraction:      p.KMaxFraction,
		LossTolerance:     p.LossTolerance,
		InstabilityFactor: p.InstabilityFactor,
		Seed:              p.Seed,
		Workers:           p.Workers,
	}
}

// ToParams maps the persisted configuration onto the engine parameters,
// leaving engine-internal knobs at their defaults.
func (c *Config) ToParams() *screen.Params {
	p := screen.DefaultParams()
	if c == nil {
		return p
	}
	p.MaxIterations = c.MaxIterations
	p.WeightTol = c.WeightTol
	p.Epsilon = c.Epsilon
	p.WeightClipMin = c.WeightClipMin
	p.WeightClipMax = c.WeightClipMax
	p.Cov = screen.CovStrategy(c.Cov)
	p.MinItems = c.MinItems
	p.HoldoutFolds = c.HoldoutFolds
	p.LowWeightCutoff = c.LowWeightCut
	p.Folds = c.Folds
	p.KStep = c.KStep
	p.KMaxFraction = c.KMaxFraction
	p.LossTolerance = c.LossTolerance
	p.InstabilityFactor = c.InstabilityFactor
	p.Seed = c.Seed
	p.Workers = c.Workers
	return p
}

func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	path := filepath.Join(dirPath, configFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate reads the config from the directory, creating the
// directory and a default config file when either is missing.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		if err := os.Mkdir(dirPath, dirMode); err != nil {
			return nil, fmt.Errorf("creating dir %s: %w", dirPath, err)
		}
	}

	path := filepath.Join(dirPath, configFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(dirPath, getDefaultConfig()); err != nil {
			return nil, fmt.Errorf("creating default config: %w", err)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshalling config file %s: %w", path, err)
	}
	return &c, nil
}

// Read loads a config from an explicit file path, bypassing the home
// directory convention. Used for per-study parameter overrides.
func Read(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshalling config file %s: %w", path, err)
	}
	return &c, nil
}

// GetOrCreateHomeDir returns the home directory for the current user.
// The create flag is set to true if the directory was created.
func GetOrCreateHomeDir(name string) (path string, created bool, err error) {
	if name == "" {
		return "", false, errors.New("name cannot be empty")
	}

	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("getting user home dir: %w", err)
	}
	slog.Debug("home dir", "path", home)

	dir := filepath.Join(home, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dir)
		if err := os.Mkdir(dir, dirMode); err != nil {
			return "", false, fmt.Errorf("creating dir %s: %w", dir, err)
		}
		created = true
	}
	return dir, created, nil
}
