package data

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mchmarny/sctl/pkg/screen"
)

const (
	personIDColumn = "person_id"
	eligibleColumn = "eligible"

	psychosocialPrefix  = "ps_"
	developmentalPrefix = "dv_"

	upsertPersonSQL = `INSERT INTO person (id, prior_eligible, imported_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET prior_eligible = excluded.prior_eligible,
			imported_at = excluded.imported_at
	`

	upsertItemSQL = `INSERT INTO item (id, domain, active) VALUES (?, ?, 1)
		ON CONFLICT (id) DO UPDATE SET domain = excluded.domain
	`

	upsertResponseSQL = `INSERT INTO response (person_id, item_id, value) VALUES (?, ?, ?)
		ON CONFLICT (person_id, item_id) DO UPDATE SET value = excluded.value
	`

	selectItemsSQL = `SELECT id, domain, active FROM item ORDER BY id`

	selectPersonsSQL = `SELECT id, prior_eligible FROM person ORDER BY id`

	selectResponsesSQL = `SELECT person_id, item_id, value FROM response ORDER BY person_id, item_id`
)

// ImportResult summarizes one responses import.
type ImportResult struct {
	Persons   int `json:"persons" yaml:"persons"`
	Items     int `json:"items" yaml:"items"`
	Responses int `json:"responses" yaml:"responses"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

// ImportResponsesCSV loads a wide-format response file: person_id,
// eligible, then one column per item. Item columns must be prefixed ps_
// (psychosocial) or dv_ (developmental); empty cells are missing
// responses. Rows and cells that cannot be parsed are skipped, not fatal.
func ImportResponsesCSV(db *sql.DB, r io.Reader) (*ImportResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	if len(header) < 3 || header[0] != personIDColumn || header[1] != eligibleColumn {
		return nil, fmt.Errorf("csv header must start with %s,%s followed by item columns",
			personIDColumn, eligibleColumn)
	}

	type col struct {
		id     string
		domain screen.Domain
	}
	cols := make([]col, 0, len(header)-2)
	seen := make([]string, 0, len(header)-2)
	for _, h := range header[2:] {
		if Contains(seen, h) {
			return nil, fmt.Errorf("duplicate item column %q", h)
		}
		seen = append(seen, h)
		switch {
		case strings.HasPrefix(h, psychosocialPrefix):
			cols = append(cols, col{id: h, domain: screen.DomainPsychosocial})
		case strings.HasPrefix(h, developmentalPrefix):
			cols = append(cols, col{id: h, domain: screen.DomainDevelopmental})
		default:
			return nil, fmt.Errorf("item column %q must be prefixed %s or %s",
				h, psychosocialPrefix, developmentalPrefix)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting import transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range cols {
		if _, err := tx.Exec(upsertItemSQL, c.id, string(c.domain)); err != nil {
			return nil, fmt.Errorf("saving item %s: %w", c.id, err)
		}
	}

	res := &ImportResult{Items: len(cols)}
	now := time.Now().UTC().Format(time.RFC3339)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row: %w", err)
		}
		if len(row) != len(header) || row[0] == "" {
			res.Skipped++
			continue
		}

		eligible := 0
		if b, err := strconv.ParseBool(row[1]); err == nil && b {
			eligible = 1
		}
		if _, err := tx.Exec(upsertPersonSQL, row[0], eligible, now); err != nil {
			return nil, fmt.Errorf("saving person %s: %w", row[0], err)
		}
		res.Persons++

		for ci, c := range cols {
			cell := strings.TrimSpace(row[ci+2])
			if cell == "" {
				continue
			}
			v, err := strconv.Atoi(cell)
			if err != nil {
				res.Skipped++
				continue
			}
			if _, err := tx.Exec(upsertResponseSQL, row[0], c.id, v); err != nil {
				return nil, fmt.Errorf("saving response %s/%s: %w", row[0], c.id, err)
			}
			res.Responses++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing import: %w", err)
	}
	return res, nil
}

// GetMatrix loads the full response matrix for a screening run.
func GetMatrix(db *sql.DB) (*screen.Matrix, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	m := &screen.Matrix{}
	itemIdx := map[string]int{}

	rows, err := db.Query(selectItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it screen.Item
		var domain string
		var active int
		if err := rows.Scan(&it.ID, &domain, &active); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		it.Domain = screen.Domain(domain)
		it.Active = active == 1
		itemIdx[it.ID] = len(m.Items)
		m.Items = append(m.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item rows: %w", err)
	}

	personIdx := map[string]int{}
	prows, err := db.Query(selectPersonsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying persons: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var p screen.Person
		var eligible int
		if err := prows.Scan(&p.ID, &eligible); err != nil {
			return nil, fmt.Errorf("scanning person row: %w", err)
		}
		p.PriorEligible = eligible == 1
		personIdx[p.ID] = len(m.Persons)
		m.Persons = append(m.Persons, p)
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("iterating person rows: %w", err)
	}

	rrows, err := db.Query(selectResponsesSQL)
	if err != nil {
		return nil, fmt.Errorf("querying responses: %w", err)
	}
	defer rrows.Close()
	for rrows.Next() {
		var pid, iid string
		var v int
		if err := rrows.Scan(&pid, &iid, &v); err != nil {
			return nil, fmt.Errorf("scanning response row: %w", err)
		}
		pi, ok := personIdx[pid]
		if !ok {
			continue
		}
		ii, ok := itemIdx[iid]
		if !ok {
			continue
		}
		m.Persons[pi].Responses = append(m.Persons[pi].Responses, screen.Response{Item: ii, Value: v})
	}
	if err := rrows.Err(); err != nil {
		return nil, fmt.Errorf("iterating response rows: %w", err)
	}

	return m, nil
}
