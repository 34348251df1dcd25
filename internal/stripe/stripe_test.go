package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gnupg/payproc/internal/account"
	"github.com/gnupg/payproc/internal/gateway"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/pgpstub"
)

func openTestAccounts(t *testing.T) *account.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "account.db")
	enc := pgpstub.Func(func(plaintext string, targets pgpstub.Target, dbFPR, boFPR string) (string, error) {
		return "enc:" + plaintext, nil
	})
	s, err := account.Open(account.Config{DSN: dsn, Encryptor: enc, DBKeyFPR: "DBKEY", BackofficeKeyFPR: "BOKEY"})
	if err != nil {
		t.Fatalf("account.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newWithBaseURL(srv.URL, "sk_test_123", gateway.DefaultBreakerConfig(), nil, openTestAccounts(t))
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc, _ := json.Marshal(body)
	w.Write(enc)
}

func TestCreateCardTokenSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens" {
			t.Errorf("path = %q, want /tokens", r.URL.Path)
		}
		writeJSON(w, 200, map[string]interface{}{
			"id":       "tok_abc",
			"livemode": false,
			"card":     map[string]interface{}{"last4": "4242"},
		})
	})

	dict := keyvalue.New()
	dict.Set("Number", "4242424242424242")
	dict.Set("Exp-Year", "2030")
	dict.Set("Exp-Month", "7")
	dict.Set("Cvc", "123")

	if err := c.CreateCardToken(context.Background(), dict); err != nil {
		t.Fatalf("CreateCardToken: %v", err)
	}
	if v, _ := dict.Get("Token"); v != "tok_abc" {
		t.Errorf("Token = %q, want tok_abc", v)
	}
	if v, _ := dict.Get("Last4"); v != "4242" {
		t.Errorf("Last4 = %q, want 4242", v)
	}
	if v, _ := dict.Get("Live"); v != "f" {
		t.Errorf("Live = %q, want f", v)
	}
	if dict.Has("Number") || dict.Has("Cvc") {
		t.Error("card data was not scrubbed from dict")
	}
}

func TestCreateCardTokenInvalidExpiry(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway should not be called with invalid input")
	})

	dict := keyvalue.New()
	dict.Set("Number", "4242424242424242")
	dict.Set("Exp-Year", "1999")
	dict.Set("Exp-Month", "7")
	dict.Set("Cvc", "123")

	if err := c.CreateCardToken(context.Background(), dict); err == nil {
		t.Fatal("expected error for out-of-range expiry year")
	}
}

func TestCreateCardTokenCardError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error": map[string]interface{}{
				"type":    "card_error",
				"code":    "card_declined",
				"message": "Your card was declined.",
			},
		})
	})

	dict := keyvalue.New()
	dict.Set("Number", "4000000000000002")
	dict.Set("Exp-Year", "2030")
	dict.Set("Exp-Month", "1")
	dict.Set("Cvc", "123")

	if err := c.CreateCardToken(context.Background(), dict); err == nil {
		t.Fatal("expected error")
	}
	if v, _ := dict.Get("failure"); v != "card_declined" {
		t.Errorf("failure = %q, want card_declined", v)
	}
	if v, _ := dict.Get("failure-mesg"); v != "Your card was declined." {
		t.Errorf("failure-mesg = %q", v)
	}
}

func TestChargeCardSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{
			"id":                  "ch_1",
			"balance_transaction": "txn_1",
			"livemode":            true,
			"currency":            "eur",
			"amount":              float64(1000),
			"card":                map[string]interface{}{"last4": "1111"},
		})
	})

	dict := keyvalue.New()
	dict.Set("Currency", "eur")
	dict.Set("_amount", "1000")
	dict.Set("Card-Token", "tok_abc")

	if err := c.ChargeCard(context.Background(), dict); err != nil {
		t.Fatalf("ChargeCard: %v", err)
	}
	if v, _ := dict.Get("Charge-Id"); v != "ch_1" {
		t.Errorf("Charge-Id = %q, want ch_1", v)
	}
	if v, _ := dict.Get("Live"); v != "t" {
		t.Errorf("Live = %q, want t", v)
	}
	if dict.Has("Card-Token") {
		t.Error("Card-Token was not consumed")
	}
}

func TestChargeCardMissingAmount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway should not be called")
	})
	dict := keyvalue.New()
	dict.Set("Currency", "eur")
	dict.Set("Card-Token", "tok_abc")
	if err := c.ChargeCard(context.Background(), dict); err == nil {
		t.Fatal("expected error for missing _amount")
	}
}

func TestFindCreatePlanExisting(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		writeJSON(w, 200, map[string]interface{}{"id": "gnupg-12-500-eur"})
	})

	dict := keyvalue.New()
	dict.Set("Currency", "eur")
	dict.Set("Recur", "12")
	dict.Set("_amount", "500")

	if err := c.FindCreatePlan(context.Background(), dict); err != nil {
		t.Fatalf("FindCreatePlan: %v", err)
	}
	if v, _ := dict.Get("_plan-id"); v != "gnupg-12-500-eur" {
		t.Errorf("_plan-id = %q", v)
	}
}

func TestFindCreatePlanCreatesWhenMissing(t *testing.T) {
	var creates int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{})
			return
		}
		creates++
		r.ParseForm()
		if r.Form.Get("interval") != "month" || r.Form.Get("interval_count") != "3" {
			t.Errorf("quarterly plan got interval=%q count=%q", r.Form.Get("interval"), r.Form.Get("interval_count"))
		}
		writeJSON(w, 200, map[string]interface{}{"id": "gnupg-4-500-eur"})
	})

	dict := keyvalue.New()
	dict.Set("Currency", "eur")
	dict.Set("Recur", "4")
	dict.Set("_amount", "500")
	dict.Set("Stmt-Desc", "Donation to Example <Project>")

	if err := c.FindCreatePlan(context.Background(), dict); err != nil {
		t.Fatalf("FindCreatePlan: %v", err)
	}
	if creates != 1 {
		t.Fatalf("expected one plan-creation call, got %d", creates)
	}
	if v, _ := dict.Get("_plan-id"); v != "gnupg-4-500-eur" {
		t.Errorf("_plan-id = %q", v)
	}
}

func TestCreateSubscriptionSuccess(t *testing.T) {
	var step int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		step++
		switch {
		case r.URL.Path == "/customers":
			writeJSON(w, 200, map[string]interface{}{"id": "cus_1"})
		case r.URL.Path == "/subscriptions":
			writeJSON(w, 200, map[string]interface{}{"id": "sub_1", "livemode": false})
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	})

	dict := keyvalue.New()
	dict.Set("_plan-id", "gnupg-12-500-eur")
	dict.Set("Card-Token", "tok_abc")
	dict.Set("Email", "donor@example.com")

	if err := c.CreateSubscription(context.Background(), dict); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}
	if step != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", step)
	}
	accountID, ok := dict.Get("account-id")
	if !ok || len(accountID) != 15 {
		t.Fatalf("account-id = %q, want 15-char id", accountID)
	}
	if dict.Has("Card-Token") {
		t.Error("Card-Token was not consumed")
	}

	got, err := c.accounts.Get(accountID)
	if err != nil {
		t.Fatalf("accounts.Get: %v", err)
	}
	if v, _ := got.Get("Email"); v != "donor@example.com" {
		t.Errorf("stored Email = %q", v)
	}
}

func TestTruncateStatementDescriptor(t *testing.T) {
	got := TruncateStatementDescriptor(`Monthly Support for <Project> "X"`)
	if len(got) > maxStatementDescriptorLen {
		t.Errorf("descriptor %q exceeds %d chars", got, maxStatementDescriptorLen)
	}
	for _, c := range illegalDescriptorChars {
		if got != "" && containsRune(got, c) {
			t.Errorf("descriptor %q still contains illegal char %q", got, c)
		}
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
