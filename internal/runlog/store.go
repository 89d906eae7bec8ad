// Package runlog persists measurements in SQLite.
package runlog

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	angles       BLOB NOT NULL,
	peak_0       INTEGER NOT NULL,
	peak_1       INTEGER NOT NULL,
	peak_2       INTEGER NOT NULL,
	peak_3       INTEGER NOT NULL,
	source       TEXT NOT NULL,
	policy       TEXT,
	seed         INTEGER NOT NULL DEFAULT 0,
	entangled    INTEGER NOT NULL DEFAULT 0,
	pattern      INTEGER NOT NULL DEFAULT 0,
	config_json  TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS runs_created_at ON runs(created_at);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT,
	trigger_type  TEXT NOT NULL,
	mode          TEXT NOT NULL,
	decision      TEXT NOT NULL,
	reason        TEXT,
	attempts      INTEGER NOT NULL DEFAULT 1,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

// TimeLayout is the fixed-width UTC layout of every created_at column, so that
// text order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region store-struct
// Store manages recorded runs in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations. Writers share one
// connection; other processes on the same file wait up to busy_timeout.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion close

// #region record-run
// RecordRun inserts rec, assigning a run ID and timestamp when they are empty.
func (s *Store) RecordRun(rec RunRecord) (RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, angles, peak_0, peak_1, peak_2, peak_3, source, policy, seed, entangled, pattern, config_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, encodeAngles(rec.Angles),
		rec.Peaks[0], rec.Peaks[1], rec.Peaks[2], rec.Peaks[3],
		rec.Source, nullIfEmpty(rec.Policy), int64(rec.Seed), boolToInt(rec.Entangled), int(rec.Pattern),
		nullIfEmpty(rec.ConfigJSON), rec.CreatedAt.Format(TimeLayout),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}
// #endregion record-run

// #region get-run
const runColumns = `run_id, angles, peak_0, peak_1, peak_2, peak_3, source, policy, seed, entangled, pattern, config_json, created_at`

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	rec, err := scanRun(row)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}
// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListRunsWithProvenance returns the most recent runs joined with the latest
// provenance row for each, newest first.
func (s *Store) ListRunsWithProvenance(limit int) ([]RunWithProvenance, error) {
	rows, err := s.db.Query(
		`SELECT r.run_id, r.angles, r.peak_0, r.peak_1, r.peak_2, r.peak_3, r.source, r.policy, r.seed,
		        r.entangled, r.pattern, r.config_json, r.created_at,
		        COALESCE(p.mode, ''), COALESCE(p.decision, ''), COALESCE(p.reason, '')
		 FROM runs r
		 LEFT JOIN provenance_log p ON p.id = (
		     SELECT MAX(id) FROM provenance_log WHERE run_id = r.run_id
		 )
		 ORDER BY r.created_at DESC, r.rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs with provenance: %w", err)
	}
	defer rows.Close()

	var out []RunWithProvenance
	for rows.Next() {
		var rp RunWithProvenance
		rec, err := scanRun(rows, &rp.Mode, &rp.Decision, &rp.Reason)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rp.RunRecord = rec
		out = append(out, rp)
	}
	return out, rows.Err()
}
// #endregion list-runs

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, extra ...any) (RunRecord, error) {
	var rec RunRecord
	var angles []byte
	var policy, configJSON sql.NullString
	var seed int64
	var entangled, pattern int
	var createdStr string

	dest := []any{
		&rec.RunID, &angles, &rec.Peaks[0], &rec.Peaks[1], &rec.Peaks[2], &rec.Peaks[3],
		&rec.Source, &policy, &seed, &entangled, &pattern, &configJSON, &createdStr,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return RunRecord{}, err
	}
	decoded, err := decodeAngles(angles)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Angles = decoded
	rec.Policy = policy.String
	rec.ConfigJSON = configJSON.String
	rec.Seed = uint64(seed)
	rec.Entangled = entangled != 0
	rec.Pattern = simulator.Pattern(pattern)
	rec.CreatedAt, _ = time.Parse(TimeLayout, createdStr)
	return rec, nil
}
// #endregion scan

// #region angle-encoding
// Angles are stored as raw float64 bits so replays see exactly what was measured.
func encodeAngles(a simulator.AngleTriple) []byte {
	buf := make([]byte, len(a)*8)
	for i, f := range a {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeAngles(b []byte) (simulator.AngleTriple, error) {
	var a simulator.AngleTriple
	if len(b) != len(a)*8 {
		return a, fmt.Errorf("angles blob has %d bytes, want %d", len(b), len(a)*8)
	}
	for i := range a {
		a[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return a, nil
}
// #endregion angle-encoding

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
// #endregion helpers
