package cli

import (
	"fmt"
	"os"

	"github.com/mchmarny/sctl/pkg/data"
	"github.com/urfave/cli/v2"
)

var (
	importFileFlag = &cli.StringFlag{
		Name:     "file",
		Usage:    "Path to the wide-format responses CSV (use - for stdin)",
		Required: true,
	}

	importCmd = &cli.Command{
		Name:            "import",
		Aliases:         []string{"i"},
		HideHelpCommand: true,
		Usage:           "Import survey data",
		Subcommands: []*cli.Command{
			{
				Name:  "responses",
				Usage: "Import respondent item responses from a CSV file",
				UsageText: `sctl import responses --file responses.csv
   sctl import responses --file -    # read from stdin`,
				Action: cmdImportResponses,
				Flags: []cli.Flag{
					importFileFlag,
				},
			},
		},
	}
)

func cmdImportResponses(c *cli.Context) error {
	cfg := getConfig(c)

	in := os.Stdin
	if p := c.String(importFileFlag.Name); p != "-" {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("opening responses file %s: %w", p, err)
		}
		defer f.Close()
		in = f
	}

	res, err := data.ImportResponsesCSV(cfg.DB, in)
	if err != nil {
		return fmt.Errorf("importing responses: %w", err)
	}
	return encode(res)
}
