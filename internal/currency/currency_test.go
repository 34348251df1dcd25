package currency

import "testing"

func TestValidKnownAndUnknown(t *testing.T) {
	tbl := New(nil)

	cases := []struct {
		code    string
		wantDec int
		wantOK  bool
	}{
		{"EUR", 2, true},
		{"eur", 2, true},
		{"JPY", 0, true},
		{"USD", 2, true},
		{"XYZ", 0, false},
	}
	for _, c := range cases {
		dec, ok := tbl.Valid(c.code)
		if ok != c.wantOK || (ok && dec != c.wantDec) {
			t.Errorf("Valid(%q) = (%d, %v), want (%d, %v)", c.code, dec, ok, c.wantDec, c.wantOK)
		}
	}
}

func TestCodesOrderEURFirst(t *testing.T) {
	tbl := New(nil)
	codes := tbl.Codes()
	if len(codes) == 0 || codes[0] != "EUR" {
		t.Fatalf("expected EUR first, got %v", codes)
	}
}

func TestSetRateRejectsOutOfRange(t *testing.T) {
	tbl := New(nil)
	if tbl.SetRate("USD", 0) {
		t.Fatal("expected rate 0 to be rejected")
	}
	if tbl.SetRate("USD", 10000.1) {
		t.Fatal("expected rate >10000 to be rejected")
	}
	if tbl.SetRate("XYZ", 1.5) {
		t.Fatal("expected unknown currency to be rejected")
	}
}

func TestSetRateFiresCallbackOnChange(t *testing.T) {
	var calls []float64
	tbl := New(func(currency string, rate float64) {
		if currency != "USD" {
			t.Errorf("unexpected currency in callback: %s", currency)
		}
		calls = append(calls, rate)
	})

	if !tbl.SetRate("USD", 1.1) {
		t.Fatal("expected first SetRate to report a change")
	}
	if tbl.SetRate("USD", 1.1) {
		t.Fatal("expected unchanged rate to report no change")
	}
	if !tbl.SetRate("USD", 1.2) {
		t.Fatal("expected changed rate to report a change")
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 callback invocations, got %d (%v)", len(calls), calls)
	}
}

func TestConvertToEuroUnknownRate(t *testing.T) {
	tbl := New(nil)
	if got := tbl.ConvertToEuro("USD", "10.00"); got != "" {
		t.Fatalf("expected empty result with no known rate, got %q", got)
	}
}

func TestConvertToEuroIdentityForEUR(t *testing.T) {
	tbl := New(nil)
	if got := tbl.ConvertToEuro("EUR", "10.5"); got != "10.50" {
		t.Fatalf("ConvertToEuro(EUR, 10.5) = %q, want 10.50", got)
	}
}

func TestConvertToEuroAppliesRate(t *testing.T) {
	tbl := New(nil)
	tbl.SetRate("USD", 1.1)
	got := tbl.ConvertToEuro("USD", "11.00")
	if got != "10.00" {
		t.Fatalf("ConvertToEuro(USD, 11.00) at rate 1.1 = %q, want 10.00", got)
	}
}

func TestConvertToEuroMalformedAmount(t *testing.T) {
	tbl := New(nil)
	tbl.SetRate("USD", 1.1)
	if got := tbl.ConvertToEuro("USD", "not-a-number"); got != "" {
		t.Fatalf("expected empty result for malformed amount, got %q", got)
	}
}

type fakeRateSource struct {
	rates map[string]float64
	err   error
}

func (f fakeRateSource) Rates() (map[string]float64, error) {
	return f.rates, f.err
}

func TestReloadSkipsEURAndAppliesOthers(t *testing.T) {
	tbl := New(nil)
	err := tbl.Reload(fakeRateSource{rates: map[string]float64{
		"EUR": 2.0, // must be ignored
		"USD": 1.08,
		"GBP": 0.85,
	}})
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if dec, ok := tbl.Valid("EUR"); !ok || dec != 2 {
		t.Fatalf("EUR entry corrupted: dec=%d ok=%v", dec, ok)
	}
	if got := tbl.ConvertToEuro("EUR", "5.00"); got != "5.00" {
		t.Fatalf("EUR rate must remain 1.0, ConvertToEuro(EUR,5.00) = %q", got)
	}
	if got := tbl.ConvertToEuro("USD", "1.08"); got != "1.00" {
		t.Fatalf("ConvertToEuro(USD, 1.08) at rate 1.08 = %q, want 1.00", got)
	}
}

func TestInfoIteration(t *testing.T) {
	tbl := New(nil)
	var codes []string
	for seq := 0; ; seq++ {
		code, _, _, ok := tbl.Info(seq)
		if !ok {
			break
		}
		codes = append(codes, code)
	}
	if len(codes) != 4 || codes[0] != "EUR" {
		t.Fatalf("unexpected iteration result: %v", codes)
	}
}
