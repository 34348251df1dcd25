package journal

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gnupg/payproc/internal/keyvalue"
)

// readWrittenLines finds the single rotated journal file under dir and
// returns its lines, without needing to reproduce Writer's date-suffix
// naming in the test itself.
func readWrittenLines(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "journal-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected exactly one journal file in %s, found %v (err=%v)", dir, matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestParseLineRoundTripsChargeRecord(t *testing.T) {
	dir := t.TempDir()
	basename := filepath.Join(dir, "journal")
	w := New(basename, func(err error) { t.Fatalf("onFatal: %v", err) })
	defer w.Close()

	meta := keyvalue.New()
	meta.Set(keyvalue.MetaName("order"), "4242")

	w.StoreCharge(ChargeRecord{
		Live:       true,
		Currency:   "EUR",
		Amount:     "10.00",
		Desc:       "widget: premium",
		Email:      "buyer@example.org",
		Meta:       meta,
		Last4:      "4242",
		Service:    ServiceStripe,
		Account:    "acct_123",
		ChargeID:   "ch_456",
		EuroAmount: "10.00",
	})

	lines := readWrittenLines(t, dir)
	if len(lines) != 1 {
		t.Fatalf("expected 1 journal line, got %d", len(lines))
	}

	rec, err := ParseLine(lines[0])
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if rec.Type != TypeCharge {
		t.Errorf("Type = %q, want %q", rec.Type, TypeCharge)
	}
	if !rec.Live {
		t.Error("Live = false, want true")
	}
	if rec.Currency != "EUR" || rec.Amount != "10.00" {
		t.Errorf("Currency/Amount = %q/%q", rec.Currency, rec.Amount)
	}
	if rec.Desc != "widget: premium" {
		t.Errorf("Desc = %q, want unescaped colon preserved", rec.Desc)
	}
	if rec.Service != ServiceStripe {
		t.Errorf("Service = %v, want ServiceStripe", rec.Service)
	}
	if rec.ChargeID != "ch_456" {
		t.Errorf("ChargeID = %q, want ch_456", rec.ChargeID)
	}
	if rec.Field("_lnr", 7) != "7" {
		t.Errorf("Field(_lnr, 7) = %q, want 7", rec.Field("_lnr", 7))
	}
	if rec.Field("mail", 0) != "buyer@example.org" {
		t.Errorf("Field(mail) = %q", rec.Field("mail", 0))
	}
}

func TestParseLineRejectsShortRecord(t *testing.T) {
	if _, err := ParseLine("20260101T000000:C:"); err == nil {
		t.Error("expected an error for a record with too few fields")
	}
}
