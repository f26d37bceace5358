package journal

import (
	"path/filepath"
	"testing"
	"time"

	"poolnet/internal/state"
)

func openTestJournal(t *testing.T, path string) *Journal {
	t.Helper()
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestJournalPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shares.db")
	j := openTestJournal(t, path)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.Record(state.Share{Seq: 2, Backend: "cpu", Pool: "a:3333", Diff: 1000, ActualDiff: 4000, Accepted: true, Elapsed: 35 * time.Millisecond, At: at})
	j.Record(state.Share{Seq: 3, Backend: "cpu", Pool: "a:3333", Diff: 1000, Error: "Low difficulty share", At: at})
	j.Record(state.Share{Seq: 4, Backend: "cpu", Pool: "a:3333", Diff: 1000, ActualDiff: ^uint64(0), Accepted: true, At: at})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	// Records after Close are ignored.
	j.Record(state.Share{Seq: 5})

	j = openTestJournal(t, path)
	defer j.Close()

	totals, err := j.Totals()
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.Accepted != 2 || totals.Rejected != 1 {
		t.Errorf("Totals = %+v, want 2 accepted 1 rejected", totals)
	}

	recent, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Recent len = %d, want 3", len(recent))
	}
	if recent[0].Seq != 4 || recent[2].Seq != 2 {
		t.Errorf("Recent order = %d..%d, want newest first", recent[0].Seq, recent[2].Seq)
	}
	first := recent[2]
	if !first.Accepted || first.ActualDiff != 4000 || first.Elapsed != 35*time.Millisecond || !first.At.Equal(at) {
		t.Errorf("first share = %+v", first)
	}
	if recent[1].Accepted || recent[1].Error != "Low difficulty share" {
		t.Errorf("rejected share = %+v", recent[1])
	}
}

func TestJournalEmptyTotals(t *testing.T) {
	j := openTestJournal(t, filepath.Join(t.TempDir(), "nested", "shares.db"))
	defer j.Close()

	totals, err := j.Totals()
	if err != nil {
		t.Fatal(err)
	}
	if totals != (Totals{}) {
		t.Errorf("Totals = %+v, want zero", totals)
	}
}
