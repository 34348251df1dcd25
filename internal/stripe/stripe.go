// Package stripe implements the CARDTOKEN and CHARGECARD commands plus the
// recurring-donation plan/subscription flow against the Stripe API, all
// driven through the shared internal/gateway REST client.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gnupg/payproc/internal/account"
	"github.com/gnupg/payproc/internal/gateway"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
)

const stripeBaseURL = "https://api.stripe.com/v1"

// Client drives the Stripe REST API with a single secret key, authenticated
// via HTTP basic auth (the key as username, empty password).
type Client struct {
	gw       *gateway.Client
	accounts *account.Store
}

// New creates a Stripe client. accounts is used by CreateSubscription to
// mint and populate the account record behind a new donor subscription.
func New(secretKey string, breakerCfg gateway.BreakerConfig, onTrip func(gateway.Service), accounts *account.Store) *Client {
	return newWithBaseURL(stripeBaseURL, secretKey, breakerCfg, onTrip, accounts)
}

func newWithBaseURL(baseURL, secretKey string, breakerCfg gateway.BreakerConfig, onTrip func(gateway.Service), accounts *account.Store) *Client {
	auth := func(req *http.Request) { req.SetBasicAuth(secretKey, "") }
	return &Client{
		gw:       gateway.NewClient(gateway.ServiceStripe, baseURL, auth, breakerCfg, onTrip),
		accounts: accounts,
	}
}

func boolFlag(b bool) string {
	if b {
		return "t"
	}
	return "f"
}

func parseIntRange(dict *keyvalue.Dict, name string, min, max int) (int, bool) {
	s := dict.GetDefault(name, "")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, false
	}
	return n, true
}

// gatewayErr folds a Stripe error body's "failure"/"failure-mesg" fields
// into dict (when present) and returns the error to propagate to the
// caller.
func (c *Client) gatewayErr(dict *keyvalue.Dict, resp *gateway.Response, err error) error {
	if resp != nil && resp.Body != nil {
		extractStripeError(dict, resp.Body)
	}
	return perr.GatewayError.Withf("%v", err)
}

// extractStripeError reads Stripe's {"error":{"type","message","code"}}
// shape and maps it onto the dictionary's "failure"/"failure-mesg" fields,
// the same triage the original daemon applies before reporting a failed
// charge or subscription to the client.
func extractStripeError(dict *keyvalue.Dict, body map[string]interface{}) {
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		return
	}
	typ, _ := errObj["type"].(string)
	mesg, _ := errObj["message"].(string)
	code, _ := errObj["code"].(string)

	switch typ {
	case "invalid_request_error":
		dict.Set("failure", "invalid request to stripe")
	case "api_error":
		dict.Set("failure", "bad request to stripe")
	case "card_error":
		if code != "" {
			dict.Set("failure", code)
		} else {
			dict.Set("failure", "card error")
		}
		if mesg != "" {
			dict.Set("failure-mesg", mesg)
		}
	default:
		dict.Set("failure", "unknown error")
	}
}

// CreateCardToken implements CARDTOKEN: it exchanges raw card data for a
// one-time Stripe token, scrubbing the card data out of dict regardless of
// outcome so it never lingers for a caller to misuse twice.
func (c *Client) CreateCardToken(ctx context.Context, dict *keyvalue.Dict) error {
	defer func() {
		dict.Del("Number")
		dict.Del("Exp-Year")
		dict.Del("Exp-Month")
		dict.Del("Cvc")
	}()
	number := dict.GetDefault("Number", "")
	if number == "" {
		return perr.MissingValue
	}
	form := url.Values{}
	form.Set("card[number]", number)
	dict.Del("Number")

	expYear, ok := parseIntRange(dict, "Exp-Year", 2014, 2199)
	if !ok {
		return perr.InvValue
	}
	form.Set("card[exp_year]", strconv.Itoa(expYear))
	dict.Del("Exp-Year")

	expMonth, ok := parseIntRange(dict, "Exp-Month", 1, 12)
	if !ok {
		return perr.InvValue
	}
	form.Set("card[exp_month]", strconv.Itoa(expMonth))
	dict.Del("Exp-Month")

	cvc, ok := parseIntRange(dict, "Cvc", 100, 9999)
	if !ok {
		return perr.InvValue
	}
	form.Set("card[cvc]", strconv.Itoa(cvc))
	dict.Del("Cvc")

	if name := dict.GetDefault("Name", ""); name != "" {
		form.Set("card[name]", name)
	}

	resp, err := c.gw.PostForm(ctx, "tokens", form)
	if err != nil {
		return c.gatewayErr(dict, resp, err)
	}

	id, _ := resp.Body["id"].(string)
	if id == "" {
		return perr.InvResponse.Withf("create_card_token: missing id")
	}
	live, _ := resp.Body["livemode"].(bool)
	card, _ := resp.Body["card"].(map[string]interface{})
	last4, _ := card["last4"].(string)
	if last4 == "" {
		return perr.InvResponse.Withf("create_card_token: missing card/last4")
	}

	dict.Set("Live", boolFlag(live))
	dict.Set("Last4", last4)
	dict.Set("Token", id)
	return nil
}

// ChargeCard implements CHARGECARD: a one-time charge against a card token
// previously obtained from CreateCardToken.
func (c *Client) ChargeCard(ctx context.Context, dict *keyvalue.Dict) error {
	currency := dict.GetDefault("Currency", "")
	if currency == "" {
		return perr.MissingValue
	}
	// _amount is the integer amount in the currency's smallest unit.
	amount := dict.GetDefault("_amount", "")
	if amount == "" {
		return perr.MissingValue
	}
	cardToken := dict.GetDefault("Card-Token", "")
	if cardToken == "" {
		return perr.MissingValue
	}

	form := url.Values{}
	form.Set("currency", currency)
	form.Set("amount", amount)
	form.Set("card", cardToken)
	dict.Del("Card-Token")

	if desc := dict.GetDefault("Desc", ""); desc != "" {
		form.Set("description", desc)
	}
	if stmt := dict.GetDefault("Stmt-Desc", ""); stmt != "" {
		form.Set("statement_description", stmt)
	}

	resp, err := c.gw.PostForm(ctx, "charges", form)
	if err != nil {
		return c.gatewayErr(dict, resp, err)
	}

	id, _ := resp.Body["id"].(string)
	if id == "" {
		return perr.InvResponse.Withf("charge_card: missing id")
	}
	dict.Set("Charge-Id", id)

	if bt, ok := resp.Body["balance_transaction"].(string); ok {
		dict.Set("balance-transaction", bt)
	} else {
		dict.Del("balance-transaction")
	}

	live, ok := resp.Body["livemode"].(bool)
	if !ok {
		return perr.InvResponse.Withf("charge_card: missing livemode")
	}
	dict.Set("Live", boolFlag(live))

	curr, _ := resp.Body["currency"].(string)
	if curr == "" {
		return perr.InvResponse.Withf("charge_card: missing currency")
	}
	dict.Set("Currency", curr)

	amt, ok := resp.Body["amount"].(float64)
	if !ok {
		return perr.InvResponse.Withf("charge_card: missing amount")
	}
	dict.Set("_amount", strconv.Itoa(int(amt)))

	if cardObj, ok := resp.Body["card"].(map[string]interface{}); ok {
		if last4, ok := cardObj["last4"].(string); ok {
			dict.Set("Last4", last4)
		}
	}
	return nil
}

// FindCreatePlan looks up (or lazily creates) the Stripe plan matching the
// donation amount/currency/recurrence triple, writing its id to "_plan-id".
// The plan id is deterministic (derived from the triple) so repeated
// donations of the same shape share one plan instead of minting duplicates.
func (c *Client) FindCreatePlan(ctx context.Context, dict *keyvalue.Dict) error {
	currency := dict.GetDefault("Currency", "")
	if currency == "" {
		return perr.MissingValue
	}

	recur, err := strconv.Atoi(dict.GetDefault("Recur", ""))
	if err != nil || (recur != 1 && recur != 4 && recur != 12) {
		return perr.MissingValue
	}

	amount := dict.GetDefault("_amount", "")
	if amount == "" {
		return perr.MissingValue
	}

	planID := strings.ToLower(fmt.Sprintf("gnupg-%d-%s-%s", recur, amount, currency))

	var body map[string]interface{}
	resp, err := c.gw.Get(ctx, "plans/"+planID, nil)
	switch {
	case err == nil:
		body = resp.Body
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		body, err = c.createPlan(ctx, dict, planID, currency, amount, recur)
		if err != nil {
			return err
		}
	default:
		return c.gatewayErr(dict, resp, err)
	}

	id, _ := body["id"].(string)
	if id == "" {
		return perr.InvResponse.Withf("find_create_plan: missing id")
	}
	dict.Set("_plan-id", id)
	return nil
}

func (c *Client) createPlan(ctx context.Context, dict *keyvalue.Dict, planID, currency, amount string, recur int) (map[string]interface{}, error) {
	form := url.Values{}
	form.Set("currency", currency)
	form.Set("amount", amount)
	form.Set("id", planID)

	var prefix string
	switch recur {
	case 12:
		form.Set("interval", "month")
		form.Set("interval_count", "1")
		prefix = "Monthly "
	case 4:
		form.Set("interval", "month")
		form.Set("interval_count", "3")
		prefix = "Quarterly "
	default:
		form.Set("interval", "year")
		form.Set("interval_count", "1")
		prefix = "Yearly "
	}

	stmtBase := dict.GetDefault("Stmt-Desc", "")
	if stmtBase == "" {
		return nil, perr.MissingValue
	}
	name := prefix + stmtBase
	form.Set("name", name)
	form.Set("statement_descriptor", TruncateStatementDescriptor(name))

	resp, err := c.gw.PostForm(ctx, "plans", form)
	if err != nil {
		return nil, c.gatewayErr(dict, resp, err)
	}
	return resp.Body, nil
}

// CreateSubscription implements the second half of the recurring-donation
// flow: create a Stripe customer for the donor, mint a local account record
// for it, and subscribe the customer to the plan found by FindCreatePlan.
func (c *Client) CreateSubscription(ctx context.Context, dict *keyvalue.Dict) error {
	planID := dict.GetDefault("_plan-id", "")
	if planID == "" {
		return perr.MissingValue
	}
	cardToken := dict.GetDefault("Card-Token", "")
	if cardToken == "" {
		return perr.MissingValue
	}
	email := dict.GetDefault("Email", "")
	if email == "" {
		return perr.MissingValue
	}

	accountID, err := c.accounts.New()
	if err != nil {
		return fmt.Errorf("stripe: allocating account id: %w", err)
	}

	custForm := url.Values{}
	custForm.Set("email", email)
	custForm.Set("metadata[account_id]", accountID)

	custResp, err := c.gw.PostForm(ctx, "customers", custForm)
	if err != nil {
		return c.gatewayErr(dict, custResp, err)
	}
	customerID, _ := custResp.Body["id"].(string)
	if customerID == "" {
		return perr.InvResponse.Withf("create_subscription: missing customer id")
	}

	subForm := url.Values{}
	subForm.Set("customer", customerID)
	subForm.Set("source", cardToken)
	dict.Del("Card-Token")
	subForm.Set("plan", planID)

	subResp, err := c.gw.PostForm(ctx, "subscriptions", subForm)
	if err != nil {
		return c.gatewayErr(dict, subResp, err)
	}

	live, ok := subResp.Body["livemode"].(bool)
	if !ok {
		return perr.InvResponse.Withf("create_subscription: missing livemode")
	}
	dict.Set("Live", boolFlag(live))
	dict.Set("account-id", accountID)

	accountDict := keyvalue.New()
	accountDict.Set("account-id", accountID)
	accountDict.Set("_stripe_cus", customerID)
	accountDict.Set("Email", email)
	if err := c.accounts.Update(accountDict); err != nil {
		return fmt.Errorf("stripe: updating account record: %w", err)
	}
	return nil
}
