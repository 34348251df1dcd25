package commands

import (
	"context"

	"github.com/gnupg/payproc/internal/amount"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdCheckAmount validates an amount/currency/recurrence triple without
// charging anything, returning the integer amount and (if a rate is
// known) the Euro equivalent. "Limit" is never populated: the original's
// doc comment reserves it for a future acceptance-limit check that was
// never actually wired up, and this mirrors that gap rather than
// inventing a limit policy with no grounding.
func (d *Dispatcher) cmdCheckAmount(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	dict.Del("Limit")

	recur, ok := validRecur(dict.GetDefault("Recur", ""))
	if !ok {
		return nil, nil, perr.MissingValue.Withf("Invalid value for 'Recur'")
	}
	dict.Set("Recur", itoaRecur(recur))

	currencyCode := dict.GetDefault("Currency", "")
	decDigits, ok := d.deps.Currency.Valid(currencyCode)
	if !ok {
		return nil, nil, perr.MissingValue.Withf("Currency missing or not supported")
	}

	amountStr := dict.GetDefault("Amount", "")
	cents := amount.Convert(amountStr, decDigits)
	if amountStr == "" || cents == 0 {
		return nil, nil, perr.MissingValue.Withf("Amount missing or invalid")
	}

	if euro := d.deps.Currency.ConvertToEuro(currencyCode, amountStr); euro != "" {
		dict.Set("Euro", euro)
	}
	dict.Set("_amount", uitoa(cents))

	reply := public(dict)
	reply.Set("_amount", dict.GetDefault("_amount", "0"))
	return protocol.OKResponse("", reply), nil, nil
}
