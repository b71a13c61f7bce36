package cli

import (
	"fmt"

	"github.com/mchmarny/sctl/pkg/data"
	"github.com/urfave/cli/v2"
)

var (
	exportSourceFlag = &cli.StringFlag{
		Name:     "source",
		Usage:    "Source tag for the exported batch (e.g. study name)",
		Required: true,
	}

	exportCmd = &cli.Command{
		Name:            "export",
		Aliases:         []string{"e"},
		HideHelpCommand: true,
		Usage:           "Export screening results",
		Subcommands: []*cli.Command{
			{
				Name:      "warehouse",
				Usage:     "Bulk-upsert results into the shared Postgres warehouse",
				UsageText: `sctl export warehouse --source study-a`,
				Action:    cmdExportWarehouse,
				Flags: []cli.Flag{
					exportSourceFlag,
				},
			},
		},
	}
)

func cmdExportWarehouse(c *cli.Context) error {
	cfg := getConfig(c)

	dsn, err := getWarehouseDSN()
	if err != nil {
		return err
	}

	res, err := data.ExportWarehouse(c.Context, cfg.DB, dsn, c.String(exportSourceFlag.Name))
	if err != nil {
		return fmt.Errorf("exporting to warehouse: %w", err)
	}
	return encode(res)
}
