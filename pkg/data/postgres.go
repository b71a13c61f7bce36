package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

const (
	warehouseDDL = `CREATE TABLE IF NOT EXISTS screening_result (
		source TEXT NOT NULL,
		person_id TEXT NOT NULL,
		authenticity_weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		authenticity_lz DOUBLE PRECISION,
		authenticity_avg_logpost DOUBLE PRECISION,
		authenticity_quintile INTEGER,
		authenticity_eta_est DOUBLE PRECISION,
		meets_inclusion BOOLEAN NOT NULL DEFAULT FALSE,
		flag TEXT,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (source, person_id)
	)`

	warehouseUpsertSQL = `INSERT INTO screening_result (source, person_id,
			authenticity_weight, authenticity_lz, authenticity_avg_logpost,
			authenticity_quintile, authenticity_eta_est, meets_inclusion, flag, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (source, person_id) DO UPDATE SET
			authenticity_weight = EXCLUDED.authenticity_weight,
			authenticity_lz = EXCLUDED.authenticity_lz,
			authenticity_avg_logpost = EXCLUDED.authenticity_avg_logpost,
			authenticity_quintile = EXCLUDED.authenticity_quintile,
			authenticity_eta_est = EXCLUDED.authenticity_eta_est,
			meets_inclusion = EXCLUDED.meets_inclusion,
			flag = EXCLUDED.flag,
			updated_at = EXCLUDED.updated_at
	`
)

// ExportResult summarizes one warehouse export.
type ExportResult struct {
	Source   string `json:"source" yaml:"source"`
	Exported int    `json:"exported" yaml:"exported"`
}

// ExportWarehouse copies all local screening results into the shared
// Postgres warehouse under the given source tag. The whole export is one
// transaction, so downstream consumers never observe a partial batch.
func ExportWarehouse(ctx context.Context, db *sql.DB, dsn, source string) (*ExportResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if dsn == "" {
		return nil, fmt.Errorf("warehouse DSN required")
	}
	if source == "" {
		return nil, fmt.Errorf("source tag required")
	}

	records, err := GetResults(db)
	if err != nil {
		return nil, err
	}

	wh, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening warehouse connection: %w", err)
	}
	defer wh.Close()

	if err := wh.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("reaching warehouse: %w", err)
	}
	if _, err := wh.ExecContext(ctx, warehouseDDL); err != nil {
		return nil, fmt.Errorf("ensuring warehouse schema: %w", err)
	}

	tx, err := wh.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting warehouse transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, warehouseUpsertSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing warehouse upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, source, r.PersonID, r.Weight,
			nullFloat(r.Lz), nullFloat(r.AvgLogPost), nullInt(r.Quintile), nullFloat(r.EtaEst),
			r.MeetsInclusion, string(r.Flag), now); err != nil {
			return nil, fmt.Errorf("exporting result for %s: %w", r.PersonID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing warehouse export: %w", err)
	}

	slog.Debug("warehouse export complete", "source", source, "records", len(records))
	return &ExportResult{Source: source, Exported: len(records)}, nil
}
