package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gnupg/payproc/internal/journal"
)

func writeTestJournal(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	w := journal.New(filepath.Join(dir, "journal"), func(err error) { t.Fatalf("onFatal: %v", err) })
	defer w.Close()

	w.StoreCharge(journal.ChargeRecord{
		Live: true, Currency: "EUR", Amount: "10.00", EuroAmount: "10.00",
		Email: "a@example.org", Service: journal.ServiceStripe, ChargeID: "ch_1",
	})
	w.StoreCharge(journal.ChargeRecord{
		Live: true, Currency: "USD", Amount: "5.00", EuroAmount: "4.50",
		Email: "b@example.org", Service: journal.ServicePayPal, ChargeID: "ch_2",
	})
	w.StoreSystem("server started")

	matches, err := filepath.Glob(filepath.Join(dir, "journal-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one journal file, got %v (err=%v)", matches, err)
	}
	return matches[0]
}

func TestProcessFileCountsAllRecordTypes(t *testing.T) {
	path := writeTestJournal(t)
	n, err := processFile(path, false, nil, ":")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3 (2 charges + 1 system record)", n)
	}
}

func TestProcessFilePrintsRequestedFields(t *testing.T) {
	path := writeTestJournal(t)

	tmp := t.TempDir()
	out, err := os.Create(filepath.Join(tmp, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	restore := os.Stdout
	os.Stdout = out
	_, procErr := processFile(path, true, fieldList{"type", "mail"}, "|")
	os.Stdout = restore
	out.Close()
	if procErr != nil {
		t.Fatal(procErr)
	}

	data, err := os.ReadFile(out.Name())
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, "C|a@example.org") || !strings.Contains(got, "C|b@example.org") || !strings.Contains(got, "$|") {
		t.Errorf("unexpected print output:\n%s", got)
	}
}
