package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/mchmarny/sctl/pkg/config"
	"github.com/mchmarny/sctl/pkg/data"
	"github.com/mchmarny/sctl/pkg/screen"
	"github.com/urfave/cli/v2"
)

const screenTimeoutDefault = 30 * time.Minute

var (
	screenConfigFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to a screening parameter file (optional, defaults to home dir config)",
	}

	screenTimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Maximum run duration",
		Value: screenTimeoutDefault,
	}

	screenSeedFlag = &cli.Int64Flag{
		Name:  "seed",
		Usage: "Override the run seed (optional)",
	}

	screenCmd = &cli.Command{
		Name:            "screen",
		Aliases:         []string{"s"},
		HideHelpCommand: true,
		Usage:           "Run the authenticity screening pipeline",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Screen all imported respondents and persist the results",
				UsageText: `sctl screen run
   sctl screen run --config study.yaml --timeout 10m`,
				Action: cmdScreenRun,
				Flags: []cli.Flag{
					screenConfigFlag,
					screenTimeoutFlag,
					screenSeedFlag,
				},
			},
		},
	}
)

func cmdScreenRun(c *cli.Context) error {
	cfg := getConfig(c)

	conf := cfg.Conf
	if p := c.String(screenConfigFlag.Name); p != "" {
		var err error
		if conf, err = config.Read(p); err != nil {
			return fmt.Errorf("reading screening config: %w", err)
		}
	}

	params := conf.ToParams()
	if c.IsSet(screenSeedFlag.Name) {
		params.Seed = c.Int64(screenSeedFlag.Name)
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid screening parameters: %w", err)
	}

	m, err := data.GetMatrix(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading response matrix: %w", err)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("no screenable data, run import first: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(screenTimeoutFlag.Name))
	defer cancel()

	started := time.Now()
	res, err := screen.Run(ctx, m, params)
	if err != nil {
		return fmt.Errorf("running screening pipeline: %w", err)
	}

	if err := data.SaveResults(cfg.DB, res.Records); err != nil {
		return fmt.Errorf("persisting results: %w", err)
	}
	if err := data.SaveRun(cfg.DB, started, res.Report); err != nil {
		return fmt.Errorf("persisting run record: %w", err)
	}

	return encode(res.Report)
}
