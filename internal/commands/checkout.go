package commands

import (
	"context"

	"github.com/gnupg/payproc/internal/amount"
	"github.com/gnupg/payproc/internal/journal"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/logger"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdPPCheckout implements the PPCHECKOUT "prepare"/"execute" pair. Unlike
// most handlers, its reply isn't the usual A-Z-name sweep: cmd_ppcheckout
// echoes a fixed, different set of fields for each sub-command, so the
// two branches build their own reply dictionaries explicitly.
func (d *Dispatcher) cmdPPCheckout(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	sub, _ := leadingSub(args)

	switch sub {
	case "prepare":
		return d.ppCheckoutPrepare(ctx, dict)
	case "execute":
		return d.ppCheckoutExecute(ctx, dict)
	default:
		return nil, nil, perr.UnknownCommand.Withf("Unknown sub-command")
	}
}

func (d *Dispatcher) ppCheckoutPrepare(ctx context.Context, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	recur, ok := validRecur(dict.GetDefault("Recur", ""))
	if !ok {
		return nil, nil, perr.MissingValue.Withf("Invalid value for 'Recur'")
	}
	dict.Set("Recur", itoaRecur(recur))

	decDigits, ok := d.deps.Currency.Valid(dict.GetDefault("Currency", ""))
	if !ok {
		return nil, nil, perr.MissingValue.Withf("Currency missing or not supported")
	}
	amountStr := dict.GetDefault("Amount", "")
	if amountStr == "" || amount.Convert(amountStr, decDigits) == 0 {
		return nil, nil, perr.MissingValue.Withf("Amount missing or invalid")
	}

	var newSessID string
	if dict.GetDefault("Session-Id", "") == "" {
		sessID, err := d.deps.Sessions.Create(0, nil)
		if err != nil {
			return nil, nil, err
		}
		newSessID = sessID
		dict.Set("Session-Id", sessID)
	}

	var err error
	if recur != 0 {
		if !isValidMailbox(dict.GetDefault("Email", "")) {
			return nil, nil, perr.MissingValue.Withf("Recurring payment but no valid 'Email' given")
		}
		if err = d.deps.PayPal.FindCreatePlan(ctx, dict); err != nil {
			return nil, nil, err
		}
		if err = d.deps.PayPal.PrepareSubscription(ctx, dict); err != nil {
			return nil, nil, err
		}
	} else {
		if err = d.deps.PayPal.PreparePayment(ctx, dict); err != nil {
			return nil, nil, err
		}
	}

	reply := keyvalue.New()
	if v, ok := dict.Get("Redirect-Url"); ok {
		reply.Set("Redirect-Url", v)
	}
	if newSessID != "" {
		reply.Set("_SESSID", newSessID)
	}
	return protocol.OKResponse("", reply), nil, nil
}

func (d *Dispatcher) ppCheckoutExecute(ctx context.Context, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	if err := d.deps.PayPal.ExecuteCheckout(ctx, dict); err != nil {
		return nil, nil, err
	}

	currencyCode := dict.GetDefault("Currency", "")
	finalAmount := dict.GetDefault("Amount", "")
	ts := d.deps.Journal.StoreCharge(journal.ChargeRecord{
		Live:       dict.GetDefault("Live", "f") == "t",
		Currency:   currencyCode,
		Amount:     finalAmount,
		Desc:       dict.GetDefault("Desc", ""),
		Email:      dict.GetDefault("Email", ""),
		Meta:       dict,
		Service:    journal.ServicePayPal,
		Account:    dict.GetDefault("account-id", ""),
		ChargeID:   dict.GetDefault("Charge-Id", ""),
		EuroAmount: d.deps.Currency.ConvertToEuro(currencyCode, finalAmount),
	})

	reply := keyvalue.New()
	for _, name := range []string{"Charge-Id", "Live", "Email", "Currency", "Amount"} {
		if v, ok := dict.Get(name); ok {
			reply.Set(name, v)
		}
	}
	if acct, ok := dict.Get("account-id"); ok {
		reply.Set("account-id", acct)
	}
	reply.Set("_timestamp", ts)
	return protocol.OKResponse("", reply), nil, nil
}

// cmdPPIPNHD handles an incoming PayPal Instant Payment Notification. It
// answers OK immediately and returns an async callback that performs the
// (slow, no longer observable by the caller) verification once the
// connection has already been closed, matching cmd_ppipnhd's
// write-then-shutdown-then-verify order exactly.
func (d *Dispatcher) cmdPPIPNHD(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	raw := dict.GetDefault("Request", "")
	log := logger.FromContext(ctx)
	async := func() {
		d.deps.PayPal.ProcessIPN(ctx, raw, log)
	}
	return protocol.OKResponse("", nil), async, nil
}
