package data

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mchmarny/sctl/pkg/screen"
)

const (
	upsertResultSQL = `INSERT INTO result (person_id, authenticity_weight, authenticity_lz,
			authenticity_avg_logpost, authenticity_quintile, authenticity_eta_est,
			meets_inclusion, flag, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (person_id) DO UPDATE SET
			authenticity_weight = excluded.authenticity_weight,
			authenticity_lz = excluded.authenticity_lz,
			authenticity_avg_logpost = excluded.authenticity_avg_logpost,
			authenticity_quintile = excluded.authenticity_quintile,
			authenticity_eta_est = excluded.authenticity_eta_est,
			meets_inclusion = excluded.meets_inclusion,
			flag = excluded.flag,
			updated_at = excluded.updated_at
	`

	selectResultsSQL = `SELECT person_id, authenticity_weight, authenticity_lz,
			authenticity_avg_logpost, authenticity_quintile, authenticity_eta_est,
			meets_inclusion, flag
		FROM result
		ORDER BY person_id
	`

	insertRunSQL = `INSERT INTO run (started_at, duration_ms, converged, iterations,
			k_star, persons, flagged)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
)

// SaveResults persists the per-person screening output in one
// transaction. The upsert keys on person_id, so re-persisting an
// identical result set is a no-op rather than a duplicate.
func SaveResults(db *sql.DB, records []screen.Record) error {
	if db == nil {
		return errDBNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting results transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(upsertResultSQL)
	if err != nil {
		return fmt.Errorf("preparing result upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		if _, err := stmt.Exec(r.PersonID, r.Weight,
			nullFloat(r.Lz), nullFloat(r.AvgLogPost), nullInt(r.Quintile), nullFloat(r.EtaEst),
			boolInt(r.MeetsInclusion), string(r.Flag), now); err != nil {
			return fmt.Errorf("saving result for %s: %w", r.PersonID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing results: %w", err)
	}
	return nil
}

// GetResults returns all persisted screening records ordered by person.
func GetResults(db *sql.DB) ([]screen.Record, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectResultsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []screen.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating result rows: %w", err)
	}
	return out, nil
}

// SaveRun appends one entry to the run audit trail.
func SaveRun(db *sql.DB, started time.Time, rep *screen.Report) error {
	if db == nil {
		return errDBNotInitialized
	}
	if rep == nil {
		return fmt.Errorf("report required")
	}

	dur, err := time.ParseDuration(rep.Duration)
	if err != nil {
		dur = 0
	}
	if _, err := db.Exec(insertRunSQL,
		started.UTC().Format(time.RFC3339), dur.Milliseconds(),
		boolInt(rep.Converged), rep.Iterations, rep.KStar, rep.Persons,
		len(rep.Flagged)); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

func scanRecord(rows *sql.Rows) (screen.Record, error) {
	var r screen.Record
	var lz, alp, eta sql.NullFloat64
	var q sql.NullInt64
	var inclusion int
	var flag sql.NullString
	if err := rows.Scan(&r.PersonID, &r.Weight, &lz, &alp, &q, &eta, &inclusion, &flag); err != nil {
		return r, fmt.Errorf("scanning result row: %w", err)
	}
	if lz.Valid {
		r.Lz = &lz.Float64
	}
	if alp.Valid {
		r.AvgLogPost = &alp.Float64
	}
	if q.Valid {
		v := int(q.Int64)
		r.Quintile = &v
	}
	if eta.Valid {
		r.EtaEst = &eta.Float64
	}
	r.MeetsInclusion = inclusion == 1
	if flag.Valid {
		r.Flag = screen.Flag(flag.String)
	}
	r.Authentic = r.Flag != screen.FlagExcluded && alp.Valid
	return r, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
