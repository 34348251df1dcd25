// Package paypal implements the PPCHECKOUT prepare/execute flow and the
// recurring-donation billing-plan/billing-agreement flow against the
// PayPal REST API, plus IPN notification verification, all driven through
// the shared internal/gateway REST client.
package paypal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gnupg/payproc/internal/account"
	"github.com/gnupg/payproc/internal/gateway"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/session"
)

const (
	paypalLiveBaseURL    = "https://api.paypal.com/v1"
	paypalSandboxBaseURL = "https://api.sandbox.paypal.com/v1"
)

// Client drives the PayPal REST API with an OAuth2 client-credentials
// access token, cached and refreshed the way the daemon's original C
// client did: one token shared by every caller, refreshed a little before
// it actually expires, and dropped immediately on a 401 so the next call
// fetches a fresh one instead of retrying the same bad token forever.
type Client struct {
	gw      *gateway.Client // bearer-authenticated; used for all domain calls
	tokenGW *gateway.Client // basic-authenticated; used only for oauth2/token

	sessions *session.Store
	accounts *account.Store

	receiverEmail string
	livemode      bool

	tokenMu          sync.Mutex
	accessToken      string
	expiresOn        time.Time
	unauthorizedSeen bool
}

// New creates a PayPal client. sandbox selects PayPal's sandbox host;
// receiverEmail gates IPN verification the way the original daemon's
// hardcoded business-account check did.
func New(clientID, clientSecret string, sandbox bool, receiverEmail string, breakerCfg gateway.BreakerConfig, onTrip func(gateway.Service), sessions *session.Store, accounts *account.Store) *Client {
	baseURL := paypalLiveBaseURL
	if sandbox {
		baseURL = paypalSandboxBaseURL
	}
	return newWithBaseURL(baseURL, clientID, clientSecret, !sandbox, receiverEmail, breakerCfg, onTrip, sessions, accounts)
}

func newWithBaseURL(baseURL, clientID, clientSecret string, livemode bool, receiverEmail string, breakerCfg gateway.BreakerConfig, onTrip func(gateway.Service), sessions *session.Store, accounts *account.Store) *Client {
	c := &Client{
		sessions:      sessions,
		accounts:      accounts,
		receiverEmail: receiverEmail,
		livemode:      livemode,
	}
	bearerAuth := func(req *http.Request) {
		c.tokenMu.Lock()
		token := c.accessToken
		c.tokenMu.Unlock()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	basicAuth := func(req *http.Request) {
		req.SetBasicAuth(clientID, clientSecret)
	}
	c.gw = gateway.NewClient(gateway.ServicePayPal, baseURL, bearerAuth, breakerCfg, onTrip)
	c.tokenGW = gateway.NewClient(gateway.ServicePayPal, baseURL, basicAuth, breakerCfg, onTrip)
	return c
}

func (c *Client) markUnauthorized() {
	c.tokenMu.Lock()
	c.unauthorizedSeen = true
	c.tokenMu.Unlock()
}

// ensureAccessToken returns a live access token, fetching and caching a new
// one if the cached one is missing, close to expiry, or was flagged by a
// 401 since it was last used. The whole check-then-fetch sequence runs
// under one lock, same as the original daemon's single mutex held across
// its access-token routine.
func (c *Client) ensureAccessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	now := time.Now()
	if c.accessToken != "" && !c.unauthorizedSeen && now.Add(30*time.Second).Before(c.expiresOn) {
		return c.accessToken, nil
	}
	c.unauthorizedSeen = false

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	resp, err := c.tokenGW.PostForm(ctx, "oauth2/token", form)
	if err != nil {
		return "", perr.GatewayError.Withf("paypal: fetching access token: %v", err)
	}

	tokenType, _ := resp.Body["token_type"].(string)
	if !strings.EqualFold(tokenType, "Bearer") {
		return "", perr.InvResponse.Withf("paypal: access token response has bad token_type")
	}
	token, _ := resp.Body["access_token"].(string)
	if token == "" {
		return "", perr.InvResponse.Withf("paypal: access token response missing access_token")
	}
	expiresIn, ok := resp.Body["expires_in"].(float64)
	if !ok || expiresIn < 60 {
		return "", perr.InvResponse.Withf("paypal: access token response has implausible expires_in")
	}

	expiresOn := now.Add(time.Duration(expiresIn) * time.Second)
	switch {
	case expiresIn > 1800:
		expiresOn = expiresOn.Add(-900 * time.Second)
	case expiresIn > 600:
		expiresOn = expiresOn.Add(-300 * time.Second)
	}

	c.accessToken = token
	c.expiresOn = expiresOn
	return token, nil
}

// gatewayErr flags a 401 for the next ensureAccessToken call and, when dict
// is non-nil, folds PayPal's error body onto dict's "failure"/"failure-mesg"
// fields before returning the error to propagate to the caller.
func (c *Client) gatewayErr(dict *keyvalue.Dict, resp *gateway.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		c.markUnauthorized()
	}
	if dict != nil && resp != nil && resp.Body != nil {
		extractPayPalError(dict, resp.Body)
	}
	return perr.GatewayError.Withf("%v", err)
}

// extractPayPalError reads PayPal's {"error","error_description"} shape
// (the shape its error responses actually use) onto dict's
// "failure"/"failure-mesg" fields.
func extractPayPalError(dict *keyvalue.Dict, body map[string]interface{}) {
	typ, ok := body["error"].(string)
	if !ok || typ == "" {
		return
	}
	dict.Set("failure", typ)
	if mesg, ok := body["error_description"].(string); ok && mesg != "" {
		dict.Set("failure-mesg", mesg)
	}
}

// findPlanByName paginates through PayPal's active billing plans looking
// for one whose name matches exactly, breaking the tie on the most
// recently updated plan if more than one shares the name. Returns "" with
// a nil error if no plan matches.
func (c *Client) findPlanByName(ctx context.Context, name string) (string, error) {
	const pageSize = 20
	var lastID, lastUpdate string

	for page := 0; ; page++ {
		q := url.Values{}
		q.Set("status", "ACTIVE")
		q.Set("page_size", strconv.Itoa(pageSize))
		q.Set("page", strconv.Itoa(page))

		resp, err := c.gw.Get(ctx, "payments/billing-plans", q)
		if err != nil {
			return "", c.gatewayErr(nil, resp, err)
		}
		if resp.StatusCode == http.StatusNoContent {
			break
		}

		plansRaw, ok := resp.Body["plans"].([]interface{})
		if !ok {
			return "", perr.InvResponse.Withf("find_plan: missing 'plans' array")
		}
		for _, raw := range plansRaw {
			item, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			id, _ := item["id"].(string)
			planName, _ := item["name"].(string)
			upd, _ := item["update_time"].(string)
			if id == "" || planName != name {
				continue
			}
			if upd > lastUpdate {
				lastUpdate = upd
				lastID = id
			}
		}
		if len(plansRaw) < pageSize {
			break
		}
	}
	return lastID, nil
}

// FindCreatePlan looks up (or lazily creates and activates) the PayPal
// billing plan matching the donation amount/currency/recurrence triple,
// writing its name and id to "_plan-name"/"_plan-id".
func (c *Client) FindCreatePlan(ctx context.Context, dict *keyvalue.Dict) error {
	currency, err := requireString(dict, "Currency")
	if err != nil {
		return err
	}
	recur, convErr := strconv.Atoi(dict.GetDefault("Recur", ""))
	rt := recurText(recur)
	if convErr != nil || rt == "" {
		return perr.MissingValue
	}
	amount, err := requireString(dict, "Amount")
	if err != nil {
		return err
	}

	planName := strings.ToLower(fmt.Sprintf("gnupg-%d-%s-%s", recur, amount, currency))
	dict.Set("_plan-name", planName)

	if _, err := c.ensureAccessToken(ctx); err != nil {
		return err
	}

	planID, err := c.findPlanByName(ctx, planName)
	if err != nil {
		return err
	}
	if planID == "" {
		planID, err = c.createPlan(ctx, dict, planName, rt, recur, amount, currency)
		if err != nil {
			return err
		}
	}

	dict.Set("_plan-id", planID)
	return nil
}

func (c *Client) createPlan(ctx context.Context, dict *keyvalue.Dict, planName, recurText string, recur int, amount, currency string) (string, error) {
	frequency, interval, err := planFrequency(recur)
	if err != nil {
		return "", err
	}

	body := billingPlanRequest{
		Name:        planName,
		Description: fmt.Sprintf("%s %s %s for gnupg", amount, currency, recurText),
		Type:        "INFINITE",
		PaymentDefinitions: []paymentDefinition{{
			Name:              fmt.Sprintf("%s payment of %s %s", recurText, amount, currency),
			Type:              "REGULAR",
			Frequency:         frequency,
			FrequencyInterval: strconv.Itoa(interval),
			Cycles:            "0",
			Amount:            planAmount{Value: amount, Currency: currency},
		}},
		MerchantPreferences: merchantPreferences{
			AutoBillAmount:          "NO",
			InitialFailAmountAction: "CONTINUE",
			MaxFailAttempts:         "0",
			ReturnURL:               "https://www.paypal.com",
			CancelURL:               "http://www.paypal.com/cancel",
		},
	}

	resp, err := c.gw.PostJSON(ctx, "payments/billing-plans/", body)
	if err != nil {
		return "", c.gatewayErr(dict, resp, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", perr.InvResponse.Withf("create_plan: unexpected status %d", resp.StatusCode)
	}
	planID, _ := resp.Body["id"].(string)
	if planID == "" {
		return "", perr.InvResponse.Withf("create_plan: missing id")
	}

	activation := []planActivationOp{{Op: "replace", Path: "/", Value: planActivationValue{State: "ACTIVE"}}}
	resp, err = c.gw.PatchJSON(ctx, "payments/billing-plans/"+planID, activation)
	if err != nil {
		return "", c.gatewayErr(dict, resp, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", perr.InvResponse.Withf("create_plan: activation returned status %d", resp.StatusCode)
	}
	return planID, nil
}

// PrepareSubscription implements the PPCHECKOUT "prepare" sub-command for
// recurring donations: it creates a billing agreement against a plan found
// by FindCreatePlan, mints a local account record for the subscriber, and
// stashes the state the matching ExecuteCheckout call will need into the
// donor's session.
func (c *Client) PrepareSubscription(ctx context.Context, dict *keyvalue.Dict) error {
	planID, err := requireString(dict, "_plan-id")
	if err != nil {
		return err
	}
	planName, err := requireString(dict, "_plan-name")
	if err != nil {
		return err
	}
	email, err := requireString(dict, "Email")
	if err != nil {
		return err
	}
	returnURL, err := validateURL(dict, "Return-Url")
	if err != nil {
		return err
	}
	cancelURL, err := validateURL(dict, "Cancel-Url")
	if err != nil {
		return err
	}
	if dict.GetDefault("Recur", "") == "" {
		return perr.MissingValue
	}

	desc := dict.GetDefault("Desc", "")
	if desc == "" {
		desc = fmt.Sprintf("Subscription using plan %s", planName)
	}
	desc = sanitizeDescription(desc)

	sessID, err := requireString(dict, "Session-Id")
	if err != nil {
		return err
	}
	aliasID, err := c.sessions.CreateAlias(sessID)
	if err != nil {
		return err
	}

	if _, err := c.ensureAccessToken(ctx); err != nil {
		return err
	}

	accountID, err := c.accounts.New()
	if err != nil {
		return fmt.Errorf("paypal: allocating account id: %w", err)
	}

	startDate := time.Now().UTC().Add(64400 * time.Second).Format(time.RFC3339)
	returnWithAlias := appendAliasID(returnURL, aliasID)

	body := billingAgreementRequest{
		Name:        fmt.Sprintf("Subscription %s (%s)", planName, accountID),
		Description: desc,
		StartDate:   startDate,
		Plan:        agreementPlan{ID: planID},
		Payer: agreementPayer{
			PaymentMethod: "paypal",
			PayerInfo:     agreementPayerInfo{Email: email},
		},
		OverrideMerchantPreferences: agreementOverridePrefs{
			CancelURL: cancelURL,
			ReturnURL: returnWithAlias,
		},
	}

	resp, err := c.gw.PostJSON(ctx, "payments/billing-agreements", body)
	if err != nil {
		return c.gatewayErr(dict, resp, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return perr.InvResponse.Withf("create_subscription: unexpected status %d", resp.StatusCode)
	}

	approvalURL := findLinkURL(resp.Body, "approval_url")
	if approvalURL == "" {
		return perr.InvResponse.Withf("paypal: approval_url missing in result")
	}
	dict.Set("Redirect-Url", approvalURL)

	executeURL := findLinkURL(resp.Body, "execute")
	if executeURL == "" {
		return perr.InvResponse.Withf("paypal: execute link missing in result")
	}

	state := keyvalue.New()
	state.Set("_paypal:hateoas:execute", executeURL)
	state.Set("_paypal:plan_id", planID)
	state.Set("_paypal:plan_name", planName)
	state.Set("_paypal:account_id", accountID)
	backupMeta(state, dict)
	backupField(state, dict, "Amount")
	backupField(state, dict, "Currency")
	backupField(state, dict, "Desc")
	backupField(state, dict, "Recur")

	if err := c.sessions.Put(sessID, state); err != nil {
		return fmt.Errorf("paypal: saving session state: %w", err)
	}
	return nil
}

// PreparePayment implements the PPCHECKOUT "prepare" sub-command for a
// one-time (non-recurring) payment.
func (c *Client) PreparePayment(ctx context.Context, dict *keyvalue.Dict) error {
	returnURL, err := validateURL(dict, "Return-Url")
	if err != nil {
		return err
	}
	cancelURL, err := validateURL(dict, "Cancel-Url")
	if err != nil {
		return err
	}
	currency, err := requireString(dict, "Currency")
	if err != nil {
		return err
	}
	amount, err := requireString(dict, "Amount")
	if err != nil {
		return err
	}

	desc := dict.GetDefault("Desc", "")
	if desc == "" {
		desc = fmt.Sprintf("Payment of %s %s", amount, currency)
	}
	desc = sanitizeDescription(desc)

	var experienceProfileID string
	if xp := dict.GetDefault("Paypal-Xp", ""); xp != "" && !strings.Contains(xp, `"`) {
		experienceProfileID = xp
	}

	sessID, err := requireString(dict, "Session-Id")
	if err != nil {
		return err
	}
	aliasID, err := c.sessions.CreateAlias(sessID)
	if err != nil {
		return err
	}

	if _, err := c.ensureAccessToken(ctx); err != nil {
		return err
	}

	returnWithAlias := appendAliasID(returnURL, aliasID)

	body := paymentRequest{
		Transactions: []paymentTransaction{{
			Amount:      transactionAmount{Currency: currency, Total: amount},
			Description: desc,
		}},
		Payer:                paymentPayer{PaymentMethod: "paypal"},
		Intent:               "sale",
		ExperienceProfileID:  experienceProfileID,
		RedirectURLs: redirectURLs{
			CancelURL: cancelURL,
			ReturnURL: returnWithAlias,
		},
	}

	resp, err := c.gw.PostJSON(ctx, "payments/payment", body)
	if err != nil {
		return c.gatewayErr(dict, resp, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return perr.InvResponse.Withf("checkout_prepare: unexpected status %d", resp.StatusCode)
	}

	paymentID, _ := resp.Body["id"].(string)
	if paymentID == "" {
		return perr.InvResponse.Withf("paypal: payment id missing in result")
	}
	approvalURL := findLinkURL(resp.Body, "approval_url")
	if approvalURL == "" {
		return perr.InvResponse.Withf("paypal: approval_url missing in result")
	}
	dict.Set("Redirect-Url", approvalURL)

	state := keyvalue.New()
	state.Set("_paypal:id", paymentID)
	backupMeta(state, dict)
	backupField(state, dict, "Amount")
	backupField(state, dict, "Currency")
	backupField(state, dict, "Desc")

	if err := c.sessions.Put(sessID, state); err != nil {
		return fmt.Errorf("paypal: saving session state: %w", err)
	}
	return nil
}

// ExecuteCheckout implements the PPCHECKOUT "execute" sub-command, common
// to both the recurring-subscription and one-time-payment flows. The
// alias resolves to the session stashed by the matching prepare call; the
// alias is destroyed first so execute can never run twice for the same
// approval.
func (c *Client) ExecuteCheckout(ctx context.Context, dict *keyvalue.Dict) error {
	aliasID, err := requireString(dict, "Alias-Id")
	if err != nil {
		return err
	}

	sessID, err := c.sessions.SessID(aliasID)
	if err != nil {
		return err
	}
	if err := c.sessions.DestroyAlias(aliasID); err != nil {
		return err
	}
	state, err := c.sessions.Get(sessID)
	if err != nil {
		return err
	}

	hateoasExecute, hasHateoas := state.Get("_paypal:hateoas:execute")
	var legacyPaymentID, subscriptionAccountID string
	if !hasHateoas {
		legacyPaymentID, err = requireString(state, "_paypal:id")
		if err != nil {
			return err
		}
	} else {
		subscriptionAccountID = state.GetDefault("_paypal:account_id", "")
	}

	if _, err := c.ensureAccessToken(ctx); err != nil {
		return err
	}

	restoreMeta(dict, state)
	restoreField(dict, state, "Amount")
	restoreField(dict, state, "Currency")
	restoreField(dict, state, "Desc")
	restoreField(dict, state, "Recur")

	var resp *gateway.Response
	if hasHateoas {
		resp, err = c.gw.PostJSON(ctx, hateoasExecute, struct{}{})
	} else {
		payerID, perErr := requireString(dict, "Paypal-Payer")
		if perErr != nil {
			return perErr
		}
		resp, err = c.gw.PostJSON(ctx, fmt.Sprintf("payments/payment/%s/execute", legacyPaymentID),
			map[string]string{"payer_id": payerID})
	}
	if err != nil {
		return c.gatewayErr(dict, resp, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return perr.InvResponse.Withf("checkout_execute: unexpected status %d", resp.StatusCode)
	}

	if hasHateoas {
		subID, _ := resp.Body["id"].(string)
		if subID == "" {
			return perr.InvResponse.Withf("paypal: subscription id missing in result")
		}
		dict.Set("Charge-Id", subID)
		dict.Del("balance-transaction")
	} else {
		dict.Set("Charge-Id", legacyPaymentID)
		saleID := findSaleID(resp.Body)
		if saleID == "" {
			return perr.InvResponse.Withf("paypal: sale id missing in result")
		}
		dict.Set("balance-transaction", saleID)
	}

	email := findEmail(resp.Body)
	dict.Put("Email", email)

	if hasHateoas && subscriptionAccountID != "" {
		payerID := findPayerID(resp.Body)
		if err := c.accounts.UpdatePayPal(subscriptionAccountID, payerID, email); err != nil {
			return fmt.Errorf("paypal: updating account record: %w", err)
		}
		dict.Set("account-id", subscriptionAccountID)
	}

	dict.Set("Live", boolFlag(c.livemode))
	return nil
}

func appendAliasID(returnURL, aliasID string) string {
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%saliasid=%s", returnURL, sep, aliasID)
}
