// Package logging records why each measurement was served the way it was.
package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/polarlab/coincidence-rig/internal/runlog"
)

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(db *sql.DB, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Attempts <= 0 {
		entry.Attempts = 1
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (run_id, trigger_type, mode, decision, reason, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullIfEmpty(entry.RunID),
		entry.TriggerType,
		entry.Mode,
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.Attempts,
		entry.CreatedAt.UTC().Format(runlog.TimeLayout),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}
// #endregion log-decision

// #region list-decisions
// ListDecisions returns the most recent provenance entries, newest first.
func ListDecisions(db *sql.DB, limit int) ([]ProvenanceEntry, error) {
	rows, err := db.Query(
		`SELECT COALESCE(run_id, ''), trigger_type, mode, decision, COALESCE(reason, ''), attempts, created_at
		 FROM provenance_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var e ProvenanceEntry
		var createdStr string
		if err := rows.Scan(&e.RunID, &e.TriggerType, &e.Mode, &e.Decision, &e.Reason, &e.Attempts, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(runlog.TimeLayout, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}
// #endregion list-decisions

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
