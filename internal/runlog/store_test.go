package runlog

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polarlab/coincidence-rig/internal/simulator"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(at time.Time) RunRecord {
	return RunRecord{
		Angles:     simulator.AngleTriple{45.7, 90, 135.25},
		Peaks:      simulator.CoincidencePeaks{700, 880, 12, 49},
		Source:     SourceSimulation,
		Policy:     "exact",
		Seed:       1<<63 + 17,
		Entangled:  true,
		Pattern:    simulator.PatternOne,
		ConfigJSON: `{"Policy":"exact"}`,
		CreatedAt:  at,
	}
}

func TestRecordAndGetRun(t *testing.T) {
	s := tempDB(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := s.RecordRun(sampleRun(at))
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if rec.RunID == "" {
		t.Fatal("expected non-empty run ID")
	}

	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Angles != rec.Angles {
		t.Fatalf("angles: expected %v, got %v", rec.Angles, got.Angles)
	}
	if got.Peaks != rec.Peaks {
		t.Fatalf("peaks: expected %v, got %v", rec.Peaks, got.Peaks)
	}
	if got.Seed != rec.Seed {
		t.Fatalf("seed: expected %d, got %d", rec.Seed, got.Seed)
	}
	if !got.Entangled || got.Pattern != simulator.PatternOne {
		t.Fatalf("classification lost: %+v", got)
	}
	if got.Policy != "exact" || got.ConfigJSON != rec.ConfigJSON || got.Source != SourceSimulation {
		t.Fatalf("metadata lost: %+v", got)
	}
	if !got.CreatedAt.Equal(at) {
		t.Fatalf("created_at: expected %v, got %v", at, got.CreatedAt)
	}
}

func TestRecordRunKeepsGivenID(t *testing.T) {
	s := tempDB(t)
	in := sampleRun(time.Time{})
	in.RunID = "fixed-id"

	rec, err := s.RecordRun(in)
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if rec.RunID != "fixed-id" {
		t.Fatalf("expected fixed-id, got %s", rec.RunID)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be filled in")
	}
	if _, err := s.RecordRun(in); err == nil {
		t.Fatal("expected duplicate run ID to fail")
	}
}

func TestRecordRunEmptyOptionalFields(t *testing.T) {
	s := tempDB(t)
	rec, err := s.RecordRun(RunRecord{Source: SourceBridge})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Policy != "" || got.ConfigJSON != "" {
		t.Fatalf("expected empty optional fields, got %+v", got)
	}
	if !got.Peaks.IsZero() {
		t.Fatalf("expected zero peaks, got %v", got.Peaks)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("nonexistent"); err == nil {
		t.Fatal("expected error for missing run")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := s.RecordRun(sampleRun(base.Add(time.Duration(i) * time.Minute)))
		if err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
		ids = append(ids, rec.RunID)
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].RunID != ids[2] || runs[2].RunID != ids[0] {
		t.Fatalf("expected newest first, got %s ... %s", runs[0].RunID, runs[2].RunID)
	}

	limited, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(limited))
	}
}

func TestListRunsOrdersSubSecondTimes(t *testing.T) {
	s := tempDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 5, 0, time.UTC)
	order := []struct {
		name string
		at   time.Time
	}{
		{"whole", base},
		{"tenth", base.Add(100 * time.Millisecond)},
		{"twelfth", base.Add(120 * time.Millisecond)},
		{"half", base.Add(500 * time.Millisecond)},
		{"next-second", base.Add(time.Second)},
	}
	ids := map[string]string{}
	for _, o := range order {
		rec, err := s.RecordRun(sampleRun(o.at))
		if err != nil {
			t.Fatalf("RecordRun %s: %v", o.name, err)
		}
		ids[rec.RunID] = o.name
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != len(order) {
		t.Fatalf("expected %d runs, got %d", len(order), len(runs))
	}
	for i, r := range runs {
		want := order[len(order)-1-i].name
		if ids[r.RunID] != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, ids[r.RunID])
		}
	}

	joined, err := s.ListRunsWithProvenance(1)
	if err != nil {
		t.Fatalf("ListRunsWithProvenance: %v", err)
	}
	if len(joined) != 1 || ids[joined[0].RunID] != "next-second" {
		t.Fatalf("expected next-second first, got %+v", joined)
	}
}

func TestListRunsOrdersAcrossZones(t *testing.T) {
	s := tempDB(t)
	east := time.FixedZone("east", 2*60*60)
	older, err := s.RecordRun(sampleRun(time.Date(2026, 3, 1, 13, 0, 0, 0, east)))
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	newer, err := s.RecordRun(sampleRun(time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if older.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected created_at normalized to UTC, got %v", older.CreatedAt)
	}

	runs, err := s.ListRuns(1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if runs[0].RunID != newer.RunID {
		t.Fatalf("expected %s newest, got %s", newer.RunID, runs[0].RunID)
	}
}

func TestConcurrentRecordRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer a.Close()
	b, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore second handle: %v", err)
	}
	defer b.Close()

	const writers = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		s := a
		if i%2 == 1 {
			s = b
		}
		wg.Add(1)
		go func(i int, s *Store) {
			defer wg.Done()
			rec, err := s.RecordRun(RunRecord{Source: SourceSimulation, Seed: uint64(i)})
			if err != nil {
				errs <- fmt.Errorf("writer %d: %w", i, err)
				return
			}
			_, err = s.DB().Exec(
				`INSERT INTO provenance_log (run_id, trigger_type, mode, decision, created_at) VALUES (?, 'socket', 'simulation', 'simulate', ?)`,
				rec.RunID, rec.CreatedAt.Format(TimeLayout),
			)
			if err != nil {
				errs <- fmt.Errorf("writer %d provenance: %w", i, err)
			}
		}(i, s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent insert failed: %v", err)
	}

	runs, err := a.ListRunsWithProvenance(writers * 2)
	if err != nil {
		t.Fatalf("ListRunsWithProvenance: %v", err)
	}
	if len(runs) != writers {
		t.Fatalf("expected %d runs, got %d", writers, len(runs))
	}
	for _, r := range runs {
		if r.Decision != "simulate" {
			t.Fatalf("run %s lost its provenance row", r.RunID)
		}
	}
}

func TestListRunsWithProvenance(t *testing.T) {
	s := tempDB(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	withLog, err := s.RecordRun(sampleRun(at))
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	bare, err := s.RecordRun(sampleRun(at.Add(time.Minute)))
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	insert := `INSERT INTO provenance_log (run_id, trigger_type, mode, decision, reason, attempts, created_at)
	           VALUES (?, 'stdin', ?, ?, ?, 1, ?)`
	if _, err := s.DB().Exec(insert, withLog.RunID, "hardware", "error", "bridge down", at.Format(TimeLayout)); err != nil {
		t.Fatalf("insert provenance: %v", err)
	}
	if _, err := s.DB().Exec(insert, withLog.RunID, "hardware", "fallback", "zeros", at.Format(TimeLayout)); err != nil {
		t.Fatalf("insert provenance: %v", err)
	}

	runs, err := s.ListRunsWithProvenance(10)
	if err != nil {
		t.Fatalf("ListRunsWithProvenance: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != bare.RunID || runs[0].Decision != "" {
		t.Fatalf("expected bare run first with no decision, got %+v", runs[0])
	}
	if runs[1].Decision != "fallback" || runs[1].Mode != "hardware" || runs[1].Reason != "zeros" {
		t.Fatalf("expected latest provenance row, got %+v", runs[1])
	}
}

func TestAngleRoundTrip(t *testing.T) {
	in := simulator.AngleTriple{-0.5, 1e-9, 359.999}
	out, err := decodeAngles(encodeAngles(in))
	if err != nil {
		t.Fatalf("decodeAngles: %v", err)
	}
	if out != in {
		t.Fatalf("expected %v, got %v", in, out)
	}
	if _, err := decodeAngles([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short blob")
	}
}

func TestNewStoreInvalidPath(t *testing.T) {
	if _, err := NewStore(filepath.Join(t.TempDir(), "missing", "dir", "x.db")); err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestDBAccessor(t *testing.T) {
	s := tempDB(t)
	if s.DB() == nil {
		t.Fatal("expected non-nil DB")
	}
}

func TestOperationsOnClosedDB(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Close()

	if _, err := s.RecordRun(sampleRun(time.Now())); err == nil {
		t.Fatal("RecordRun: expected error on closed DB")
	}
	if _, err := s.ListRuns(5); err == nil {
		t.Fatal("ListRuns: expected error on closed DB")
	}
	if _, err := s.ListRunsWithProvenance(5); err == nil {
		t.Fatal("ListRunsWithProvenance: expected error on closed DB")
	}
}
