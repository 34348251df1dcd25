package main

import (
	"path/filepath"
	"testing"

	"github.com/gnupg/payproc/internal/journal"
)

func writeTestJournal(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	w := journal.New(filepath.Join(dir, "journal"), func(err error) { t.Fatalf("onFatal: %v", err) })
	defer w.Close()

	w.StoreCharge(journal.ChargeRecord{Live: true, Currency: "EUR", Amount: "10.00", EuroAmount: "10.00"})
	w.StoreCharge(journal.ChargeRecord{Live: true, Currency: "USD", Amount: "5.00", EuroAmount: "4.50"})
	w.StoreSystem("server started") // must not count toward charge stats

	matches, err := filepath.Glob(filepath.Join(dir, "journal-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one journal file, got %v (err=%v)", matches, err)
	}
	return matches[0]
}

func TestScanFileAggregatesChargesOnlyByMonth(t *testing.T) {
	path := writeTestJournal(t)

	counts := map[monthKey]int{}
	totals := map[monthKey]float64{}
	if err := scanFile(path, counts, totals); err != nil {
		t.Fatal(err)
	}

	if len(counts) != 1 {
		t.Fatalf("expected a single month bucket, got %d", len(counts))
	}
	for k, n := range counts {
		if n != 2 {
			t.Errorf("count for %v = %d, want 2", k, n)
		}
		if got := totals[k]; got != 14.5 {
			t.Errorf("total for %v = %v, want 14.5", k, got)
		}
	}
}
