package commands

import (
	"context"

	"github.com/gnupg/payproc/internal/amount"
	"github.com/gnupg/payproc/internal/journal"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdChargecard implements CHARGECARD: a one-time charge, or (Recur != 0)
// the creation of a recurring Stripe subscription, grounded exactly on
// cmd_chargecard's validate-then-branch control flow.
func (d *Dispatcher) cmdChargecard(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
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
	cents := amount.Convert(amountStr, decDigits)
	if amountStr == "" || cents == 0 {
		return nil, nil, perr.MissingValue.Withf("Amount missing or invalid")
	}
	dict.Set("_amount", uitoa(cents))

	if dict.GetDefault("Card-Token", "") == "" {
		return nil, nil, perr.MissingValue.Withf("'Card-Token' not given")
	}

	var err error
	if recur != 0 {
		if !isValidMailbox(dict.GetDefault("Email", "")) {
			return nil, nil, perr.MissingValue.Withf("Recurring payment but no valid 'Email' given")
		}
		if err = d.deps.Stripe.FindCreatePlan(ctx, dict); err != nil {
			return nil, nil, err
		}
		if err = d.deps.Stripe.CreateSubscription(ctx, dict); err != nil {
			return nil, nil, err
		}
	} else {
		if err = d.deps.Stripe.ChargeCard(ctx, dict); err != nil {
			return nil, nil, err
		}
	}

	dict.Set("Amount", amount.Reconvert(parseUint(dict.GetDefault("_amount", "0")), decDigits))

	currencyCode := dict.GetDefault("Currency", "")
	finalAmount := dict.GetDefault("Amount", "")
	ts := d.deps.Journal.StoreCharge(journal.ChargeRecord{
		Live:       dict.GetDefault("Live", "f") == "t",
		Currency:   currencyCode,
		Amount:     finalAmount,
		Desc:       dict.GetDefault("Desc", ""),
		Email:      dict.GetDefault("Email", ""),
		Meta:       dict,
		Last4:      dict.GetDefault("Last4", ""),
		Service:    journal.ServiceStripe,
		Account:    dict.GetDefault("account-id", ""),
		ChargeID:   dict.GetDefault("Charge-Id", ""),
		EuroAmount: d.deps.Currency.ConvertToEuro(currencyCode, finalAmount),
	})

	reply := public(dict)
	if acct, ok := dict.Get("account-id"); ok {
		reply.Set("account-id", acct)
	}
	reply.Set("_timestamp", ts)
	return protocol.OKResponse("", reply), nil, nil
}

func itoaRecur(n int) string {
	switch n {
	case 0:
		return "0"
	case 1:
		return "1"
	case 4:
		return "4"
	case 12:
		return "12"
	default:
		return "0"
	}
}

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func parseUint(s string) uint64 {
	var n uint64
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return n
		}
		n = n*10 + uint64(s[i]-'0')
	}
	return n
}
