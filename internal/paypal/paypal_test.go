package paypal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gnupg/payproc/internal/account"
	"github.com/gnupg/payproc/internal/gateway"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/pgpstub"
	"github.com/gnupg/payproc/internal/session"
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

// newTestClient starts a fake PayPal server and returns a client pointed at
// it, the session store it shares with that client, and the server's base
// URL (needed to build HATEOAS links that composeURL will accept as
// same-host).
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *session.Store, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sessions := session.New()
	c := newWithBaseURL(srv.URL, "client-id", "client-secret", false, "payproc-test@example.com",
		gateway.DefaultBreakerConfig(), nil, sessions, openTestAccounts(t))
	return c, sessions, srv.URL
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc, _ := json.Marshal(body)
	w.Write(enc)
}

func tokenResponse(w http.ResponseWriter) {
	writeJSON(w, 200, map[string]interface{}{
		"token_type":   "Bearer",
		"access_token": "tok-abc",
		"expires_in":   float64(3600),
	})
}

// aliasIDFromReturnURL extracts the "aliasid" query parameter this package
// appends to a caller's Return-Url before handing it to PayPal, the same way
// a donor's browser would recover it when PayPal redirects back.
func aliasIDFromReturnURL(returnURL string) string {
	u, err := url.Parse(returnURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("aliasid")
}

func TestEnsureAccessTokenCaches(t *testing.T) {
	var tokenCalls int
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			tokenCalls++
			tokenResponse(w)
			return
		}
		t.Fatalf("unexpected path %q", r.URL.Path)
	})

	for i := 0; i < 3; i++ {
		tok, err := c.ensureAccessToken(context.Background())
		if err != nil {
			t.Fatalf("ensureAccessToken: %v", err)
		}
		if tok != "tok-abc" {
			t.Errorf("token = %q", tok)
		}
	}
	if tokenCalls != 1 {
		t.Fatalf("expected one token fetch, got %d", tokenCalls)
	}
}

func TestEnsureAccessTokenRefetchesAfter401(t *testing.T) {
	var tokenCalls int
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/token" {
			tokenCalls++
			tokenResponse(w)
			return
		}
		t.Fatalf("unexpected path %q", r.URL.Path)
	})

	if _, err := c.ensureAccessToken(context.Background()); err != nil {
		t.Fatalf("ensureAccessToken: %v", err)
	}
	c.markUnauthorized()
	if _, err := c.ensureAccessToken(context.Background()); err != nil {
		t.Fatalf("ensureAccessToken: %v", err)
	}
	if tokenCalls != 2 {
		t.Fatalf("expected a refetch after a 401, got %d calls", tokenCalls)
	}
}

func TestFindCreatePlanExisting(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth2/token":
			tokenResponse(w)
		case strings.HasPrefix(r.URL.Path, "/payments/billing-plans"):
			writeJSON(w, 200, map[string]interface{}{
				"plans": []interface{}{
					map[string]interface{}{"id": "plan-1", "name": "gnupg-12-500-eur", "update_time": "2020-01-01T00:00:00Z"},
				},
			})
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	})

	dict := keyvalue.New()
	dict.Set("Currency", "eur")
	dict.Set("Recur", "12")
	dict.Set("Amount", "500")

	if err := c.FindCreatePlan(context.Background(), dict); err != nil {
		t.Fatalf("FindCreatePlan: %v", err)
	}
	if v, _ := dict.Get("_plan-id"); v != "plan-1" {
		t.Errorf("_plan-id = %q, want plan-1", v)
	}
}

func TestFindCreatePlanCreatesWhenMissing(t *testing.T) {
	var created bool
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth2/token":
			tokenResponse(w)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/payments/billing-plans"):
			writeJSON(w, 200, map[string]interface{}{"plans": []interface{}{}})
		case r.Method == http.MethodPost && r.URL.Path == "/payments/billing-plans/":
			var body billingPlanRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode create-plan body: %v", err)
			}
			if body.PaymentDefinitions[0].Frequency != "MONTH" || body.PaymentDefinitions[0].FrequencyInterval != "3" {
				t.Errorf("quarterly plan got frequency=%q interval=%q",
					body.PaymentDefinitions[0].Frequency, body.PaymentDefinitions[0].FrequencyInterval)
			}
			created = true
			writeJSON(w, 201, map[string]interface{}{"id": "plan-new"})
		case r.Method == http.MethodPatch && r.URL.Path == "/payments/billing-plans/plan-new":
			writeJSON(w, 200, map[string]interface{}{"state": "ACTIVE"})
		default:
			t.Fatalf("unexpected %s %q", r.Method, r.URL.Path)
		}
	})

	dict := keyvalue.New()
	dict.Set("Currency", "eur")
	dict.Set("Recur", "4")
	dict.Set("Amount", "500")

	if err := c.FindCreatePlan(context.Background(), dict); err != nil {
		t.Fatalf("FindCreatePlan: %v", err)
	}
	if !created {
		t.Fatal("expected plan to be created")
	}
	if v, _ := dict.Get("_plan-id"); v != "plan-new" {
		t.Errorf("_plan-id = %q", v)
	}
}

func TestPrepareAndExecuteSubscription(t *testing.T) {
	var capturedAliasID string
	c, sessions, base := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth2/token":
			tokenResponse(w)
		case r.URL.Path == "/payments/billing-agreements":
			var body billingAgreementRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode billing-agreement body: %v", err)
			}
			capturedAliasID = aliasIDFromReturnURL(body.OverrideMerchantPreferences.ReturnURL)
			writeJSON(w, 201, map[string]interface{}{
				"links": []interface{}{
					map[string]interface{}{"rel": "approval_url", "href": "https://paypal.example/approve"},
					map[string]interface{}{"rel": "execute", "href": base + "/payments/billing-agreements/I-123/agreement-execute"},
				},
			})
		case strings.Contains(r.URL.Path, "agreement-execute"):
			writeJSON(w, 200, map[string]interface{}{
				"id": "I-123",
				"payer": map[string]interface{}{
					"payer_info": map[string]interface{}{
						"email":    "donor@example.com",
						"payer_id": "PAYER123",
					},
				},
			})
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	})

	sessID, err := sessions.Create(0, nil)
	if err != nil {
		t.Fatalf("sessions.Create: %v", err)
	}

	dict := keyvalue.New()
	dict.Set("_plan-id", "plan-1")
	dict.Set("_plan-name", "gnupg-1-1000-eur")
	dict.Set("Email", "donor@example.com")
	dict.Set("Return-Url", "https://merchant.example/return")
	dict.Set("Cancel-Url", "https://merchant.example/cancel")
	dict.Set("Recur", "1")
	dict.Set("Session-Id", sessID)

	if err := c.PrepareSubscription(context.Background(), dict); err != nil {
		t.Fatalf("PrepareSubscription: %v", err)
	}
	redirect, _ := dict.Get("Redirect-Url")
	if redirect != "https://paypal.example/approve" {
		t.Fatalf("Redirect-Url = %q", redirect)
	}
	if capturedAliasID == "" {
		t.Fatal("handler never observed an alias id on the billing-agreement return_url")
	}

	execDict := keyvalue.New()
	execDict.Set("Alias-Id", capturedAliasID)
	if err := c.ExecuteCheckout(context.Background(), execDict); err != nil {
		t.Fatalf("ExecuteCheckout: %v", err)
	}
	if v, _ := execDict.Get("Charge-Id"); v != "I-123" {
		t.Errorf("Charge-Id = %q, want I-123", v)
	}
	accountID, _ := execDict.Get("account-id")
	if len(accountID) != 15 {
		t.Errorf("account-id = %q, want 15-char id", accountID)
	}

	got, err := c.accounts.Get(accountID)
	if err != nil {
		t.Fatalf("accounts.Get: %v", err)
	}
	if v, _ := got.Get("_paypal_payer_id"); v != "PAYER123" {
		t.Errorf("_paypal_payer_id = %q, want PAYER123", v)
	}

	if _, err := sessions.SessID(capturedAliasID); err == nil {
		t.Error("expected the alias to be destroyed after execute")
	}
}

func TestPrepareAndExecuteOneTimePayment(t *testing.T) {
	var capturedAliasID string
	c, sessions, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth2/token":
			tokenResponse(w)
		case r.URL.Path == "/payments/payment":
			var body paymentRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode payment body: %v", err)
			}
			capturedAliasID = aliasIDFromReturnURL(body.RedirectURLs.ReturnURL)
			writeJSON(w, 201, map[string]interface{}{
				"id": "PAY-1",
				"links": []interface{}{
					map[string]interface{}{"rel": "approval_url", "href": "https://paypal.example/approve-payment"},
				},
			})
		case r.URL.Path == "/payments/payment/PAY-1/execute":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode execute body: %v", err)
			}
			if body["payer_id"] != "PAYERX" {
				t.Errorf("payer_id = %q, want PAYERX", body["payer_id"])
			}
			writeJSON(w, 200, map[string]interface{}{
				"transactions": []interface{}{
					map[string]interface{}{
						"related_resources": []interface{}{
							map[string]interface{}{"sale": map[string]interface{}{"id": "SALE-1"}},
						},
					},
				},
				"payer": map[string]interface{}{
					"payer_info": map[string]interface{}{"email": "buyer@example.com"},
				},
			})
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	})

	sessID, err := sessions.Create(0, nil)
	if err != nil {
		t.Fatalf("sessions.Create: %v", err)
	}

	dict := keyvalue.New()
	dict.Set("Currency", "usd")
	dict.Set("Amount", "10.00")
	dict.Set("Return-Url", "https://merchant.example/return")
	dict.Set("Cancel-Url", "https://merchant.example/cancel")
	dict.Set("Session-Id", sessID)

	if err := c.PreparePayment(context.Background(), dict); err != nil {
		t.Fatalf("PreparePayment: %v", err)
	}
	if capturedAliasID == "" {
		t.Fatal("handler never observed an alias id on the payment return_url")
	}

	execDict := keyvalue.New()
	execDict.Set("Alias-Id", capturedAliasID)
	execDict.Set("Paypal-Payer", "PAYERX")
	if err := c.ExecuteCheckout(context.Background(), execDict); err != nil {
		t.Fatalf("ExecuteCheckout: %v", err)
	}
	if v, _ := execDict.Get("Charge-Id"); v != "PAY-1" {
		t.Errorf("Charge-Id = %q, want PAY-1", v)
	}
	if v, _ := execDict.Get("balance-transaction"); v != "SALE-1" {
		t.Errorf("balance-transaction = %q, want SALE-1", v)
	}
	if execDict.Has("account-id") {
		t.Error("one-time payment must not produce an account-id")
	}
}

func TestSanitizeDescriptionTruncatesAndEscapes(t *testing.T) {
	long := strings.Repeat("x", 200) + `"quoted"`
	got := sanitizeDescription(long)
	if len(got) > maxDescLen {
		t.Errorf("description length %d exceeds %d", len(got), maxDescLen)
	}
	if strings.Contains(got, `"`) {
		t.Errorf("description %q still contains a double quote", got)
	}
}
