package data

import (
	"database/sql"
	"fmt"

	"github.com/mchmarny/sctl/pkg/screen"
)

const (
	selectSummarySQL = `SELECT
			(SELECT COUNT(*) FROM person),
			(SELECT COUNT(*) FROM item),
			(SELECT COUNT(*) FROM response),
			(SELECT COUNT(*) FROM result),
			(SELECT COUNT(*) FROM result WHERE meets_inclusion = 1),
			(SELECT COUNT(*) FROM result WHERE flag != ''),
			(SELECT COUNT(*) FROM run)
	`

	selectQuintileDistSQL = `SELECT authenticity_quintile, COUNT(*)
		FROM result
		WHERE authenticity_quintile IS NOT NULL
		GROUP BY authenticity_quintile
		ORDER BY authenticity_quintile
	`

	selectFlaggedSQL = `SELECT person_id, authenticity_weight, authenticity_lz,
			authenticity_avg_logpost, authenticity_quintile, authenticity_eta_est,
			meets_inclusion, flag
		FROM result
		WHERE flag != ''
		ORDER BY person_id
	`

	selectExcludedSQL = `SELECT person_id, authenticity_weight, authenticity_lz,
			authenticity_avg_logpost, authenticity_quintile, authenticity_eta_est,
			meets_inclusion, flag
		FROM result
		WHERE flag = ?
		ORDER BY person_id
	`
)

// Summary is the dataset/result roll-up used by the query command.
type Summary struct {
	Persons        int           `json:"persons" yaml:"persons"`
	Items          int           `json:"items" yaml:"items"`
	Responses      int           `json:"responses" yaml:"responses"`
	Results        int           `json:"results" yaml:"results"`
	MeetsInclusion int           `json:"meets_inclusion" yaml:"meetsInclusion"`
	Flagged        int           `json:"flagged" yaml:"flagged"`
	Runs           int           `json:"runs" yaml:"runs"`
	Quintiles      map[int]int   `json:"quintiles,omitempty" yaml:"quintiles,omitempty"`
}

// GetSummary rolls up the current state of the store.
func GetSummary(db *sql.DB) (*Summary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	s := &Summary{Quintiles: map[int]int{}}
	if err := db.QueryRow(selectSummarySQL).Scan(&s.Persons, &s.Items, &s.Responses,
		&s.Results, &s.MeetsInclusion, &s.Flagged, &s.Runs); err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}

	rows, err := db.Query(selectQuintileDistSQL)
	if err != nil {
		return nil, fmt.Errorf("querying quintile distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var q, cnt int
		if err := rows.Scan(&q, &cnt); err != nil {
			return nil, fmt.Errorf("scanning quintile row: %w", err)
		}
		s.Quintiles[q] = cnt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quintile rows: %w", err)
	}

	return s, nil
}

// GetFlagged returns every person carrying a screening flag.
func GetFlagged(db *sql.DB) ([]screen.Record, error) {
	return queryRecords(db, selectFlaggedSQL)
}

// GetExcluded returns the persons removed by the selected threshold.
func GetExcluded(db *sql.DB) ([]screen.Record, error) {
	return queryRecords(db, selectExcludedSQL, string(screen.FlagExcluded))
}

func queryRecords(db *sql.DB, query string, args ...any) ([]screen.Record, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
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
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}
	return out, nil
}
