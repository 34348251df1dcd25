package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/gnupg/payproc/internal/amount"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdSepaPreorder implements SEPAPREORDER: register a SEPA preorder and
// mint its unique Sepa-Ref.
func (d *Dispatcher) cmdSepaPreorder(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	if err := requireEUR(dict); err != nil {
		return nil, nil, err
	}
	cents, ok := convertAndReformat(dict, 2)
	if !ok {
		return nil, nil, perr.MissingValue.Withf("Amount missing or invalid")
	}
	dict.Set("_amount", uitoa(cents))

	// preorder_store_record also mints and writes Sepa-Ref into dict, which
	// is why it runs last: it's what makes Sepa-Ref a unique key.
	if _, err := d.deps.Preorders.Insert(dict); err != nil {
		return nil, nil, err
	}
	return protocol.OKResponse("", public(dict)), nil, nil
}

// cmdCommitPreorder implements COMMITPREORDER: record the actual amount
// paid against a preorder's Sepa-Ref.
func (d *Dispatcher) cmdCommitPreorder(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	ref := dict.GetDefault("Sepa-Ref", "")
	if ref == "" {
		return nil, nil, perr.MissingValue.Withf("Key 'Sepa-Ref' not given")
	}
	if err := requireEUR(dict); err != nil {
		return nil, nil, err
	}
	cents, ok := convertAndReformat(dict, 2)
	if !ok {
		return nil, nil, perr.MissingValue.Withf("Amount missing or invalid")
	}
	dict.Set("_amount", uitoa(cents))

	if existing, err := d.deps.Preorders.Get(ref); err == nil {
		if existing.GetDefault("Amount", "") != dict.GetDefault("Amount", "") {
			dict.Set("_amount-mismatch", "1")
		}
	}

	if err := d.deps.Preorders.Update(ref, dict); err != nil {
		return nil, nil, err
	}
	return protocol.OKResponse("", public(dict)), nil, nil
}

// cmdGetPreorder implements GETPREORDER: look up a preorder row by its
// Sepa-Ref.
func (d *Dispatcher) cmdGetPreorder(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	ref := dict.GetDefault("Sepa-Ref", "")
	if ref == "" {
		return nil, nil, perr.MissingValue.Withf("Key 'Sepa-Ref' not given")
	}
	record, err := d.deps.Preorders.Get(ref)
	if err != nil {
		return nil, nil, err
	}
	return protocol.OKResponse("", public(record)), nil, nil
}

// cmdListPreorder implements LISTPREORDER: enumerate preorder rows,
// optionally filtered to a two-digit Refnn suffix, each rendered as one
// pipe-delimited "D[n]" line.
func (d *Dispatcher) cmdListPreorder(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	refnn := dict.GetDefault("Refnn", "")
	records, err := d.deps.Preorders.List(refnn)
	if err != nil {
		return nil, nil, err
	}

	reply := keyvalue.New()
	reply.Set("Count", strconv.Itoa(len(records)))
	for i, rec := range records {
		reply.Set("D["+strconv.Itoa(i)+"]", encodeListRow(rec))
	}
	return protocol.OKResponse("", reply), nil, nil
}

// requireEUR defaults a missing Currency to "EUR" and rejects any other
// value, matching cmd_sepapreorder/cmd_commitpreorder's "must be EUR if
// given" rule.
func requireEUR(dict *keyvalue.Dict) error {
	curr, ok := dict.Get("Currency")
	if !ok {
		dict.Set("Currency", "EUR")
		return nil
	}
	if !strings.EqualFold(curr, "EUR") {
		return perr.InvValue.Withf("Currency must be \"EUR\" if given")
	}
	return nil
}

// convertAndReformat parses dict's Amount field at decDigits precision,
// then rewrites it back in canonical form (matching the
// convert-then-reconvert round trip every preorder handler performs).
func convertAndReformat(dict *keyvalue.Dict, decDigits int) (uint64, bool) {
	s := dict.GetDefault("Amount", "")
	cents := amount.Convert(s, decDigits)
	if s == "" || cents == 0 {
		return 0, false
	}
	dict.Set("Amount", amount.Reconvert(cents, decDigits))
	return cents, true
}

// encodeListRow renders one preorder row in the order Sepa-Ref, Created,
// Paid, N-Paid, Amount, Currency, Desc, Email, Meta, each field escaped so
// an embedded "|" can't be mistaken for a column separator, framed with a
// leading and trailing pipe.
func encodeListRow(d *keyvalue.Dict) string {
	var b strings.Builder
	fields := []string{
		d.GetDefault("Sepa-Ref", ""),
		d.GetDefault("Created", ""),
		d.GetDefault("Paid", ""),
		d.GetDefault("N-Paid", ""),
		d.GetDefault("Amount", ""),
		d.GetDefault("Currency", ""),
		d.GetDefault("Desc", ""),
		d.GetDefault("Email", ""),
		keyvalue.EncodeMeta(d),
	}
	for _, f := range fields {
		b.WriteByte('|')
		if strings.IndexByte(f, '|') < 0 {
			b.WriteString(f)
			continue
		}
		for i := 0; i < len(f); i++ {
			if f[i] == '|' {
				b.WriteString("=7C")
			} else {
				b.WriteByte(f[i])
			}
		}
	}
	b.WriteByte('|')
	return b.String()
}
