package cli

import (
	"fmt"

	"github.com/mchmarny/sctl/pkg/data"
	"github.com/urfave/cli/v2"
)

var (
	queryExcludedFlag = &cli.BoolFlag{
		Name:  "excluded",
		Usage: "Only persons removed by the selected threshold",
	}

	queryFlaggedFlag = &cli.BoolFlag{
		Name:  "flagged",
		Usage: "Only persons carrying any screening flag",
	}

	queryCmd = &cli.Command{
		Name:            "query",
		Aliases:         []string{"q"},
		HideHelpCommand: true,
		Usage:           "Query persisted screening results",
		Subcommands: []*cli.Command{
			{
				Name:  "persons",
				Usage: "List per-person screening results",
				UsageText: `sctl query persons
   sctl query persons --excluded
   sctl query persons --flagged`,
				Action: cmdQueryPersons,
				Flags: []cli.Flag{
					queryExcludedFlag,
					queryFlaggedFlag,
				},
			},
			{
				Name:   "summary",
				Usage:  "Print dataset and result counts",
				Action: cmdQuerySummary,
			},
		},
	}
)

func cmdQueryPersons(c *cli.Context) error {
	cfg := getConfig(c)

	switch {
	case c.Bool(queryExcludedFlag.Name):
		recs, err := data.GetExcluded(cfg.DB)
		if err != nil {
			return fmt.Errorf("querying excluded persons: %w", err)
		}
		return encode(recs)
	case c.Bool(queryFlaggedFlag.Name):
		recs, err := data.GetFlagged(cfg.DB)
		if err != nil {
			return fmt.Errorf("querying flagged persons: %w", err)
		}
		return encode(recs)
	default:
		recs, err := data.GetResults(cfg.DB)
		if err != nil {
			return fmt.Errorf("querying results: %w", err)
		}
		return encode(recs)
	}
}

func cmdQuerySummary(c *cli.Context) error {
	cfg := getConfig(c)

	s, err := data.GetSummary(cfg.DB)
	if err != nil {
		return fmt.Errorf("querying summary: %w", err)
	}
	return encode(s)
}
