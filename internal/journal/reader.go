package journal

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldNames lists the journal's field names in on-disk order, plus the
// virtual "_lnr" field a reader can supply from outside the record itself.
var fieldNames = []string{
	"_lnr", "date", "type", "live", "currency", "amount",
	"desc", "mail", "meta", "last4", "service", "account",
	"chargeid", "txid", "rtxid",
}

// Record is one parsed journal line.
type Record struct {
	Raw        string
	Timestamp  string
	Type       RecordType
	Live       bool
	Currency   string
	Amount     string
	Desc       string
	Email      string
	Meta       string
	Last4      string
	Service    Service
	Account    string
	ChargeID   string
	TxID       string
	RefTxID    string
	EuroAmount string
}

func parseServiceCode(s string) Service {
	switch s {
	case "1":
		return ServiceStripe
	case "2":
		return ServiceSEPA
	case "3":
		return ServicePayPal
	default:
		return ServiceNone
	}
}

func unescapeField(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseLine parses one journal record line, as written by Writer's
// StoreSystem/StoreCharge/StoreRefund: 15 colon-delimited, percent-escaped
// fields.
func ParseLine(line string) (Record, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 15 {
		return Record{}, fmt.Errorf("journal: malformed record (want 15 fields, got %d)", len(parts))
	}
	for i := range parts {
		parts[i] = unescapeField(parts[i])
	}

	var typ RecordType
	if parts[1] != "" {
		typ = RecordType(parts[1][0])
	}

	return Record{
		Raw:        line,
		Timestamp:  parts[0],
		Type:       typ,
		Live:       parts[2] == "1",
		Currency:   parts[3],
		Amount:     parts[4],
		Desc:       parts[5],
		Email:      parts[6],
		Meta:       parts[7],
		Last4:      parts[8],
		Service:    parseServiceCode(parts[9]),
		Account:    parts[10],
		ChargeID:   parts[11],
		TxID:       parts[12],
		RefTxID:    parts[13],
		EuroAmount: parts[14],
	}, nil
}

// FieldNames returns the journal's field names in on-disk order, led by the
// virtual "_lnr" field.
func FieldNames() []string {
	out := make([]string, len(fieldNames))
	copy(out, fieldNames)
	return out
}

// Field looks up one named field of the record. lnr supplies the value for
// the virtual "_lnr" field (a reader's own line counter, not stored in the
// record itself). Unknown names return "".
func (r Record) Field(name string, lnr int) string {
	switch name {
	case "_lnr":
		return strconv.Itoa(lnr)
	case "date":
		return r.Timestamp
	case "type":
		return string(r.Type)
	case "live":
		if r.Live {
			return "1"
		}
		return "0"
	case "currency":
		return r.Currency
	case "amount":
		return r.Amount
	case "desc":
		return r.Desc
	case "mail":
		return r.Email
	case "meta":
		return r.Meta
	case "last4":
		return r.Last4
	case "service":
		return serviceCode(r.Service)
	case "account":
		return r.Account
	case "chargeid":
		return r.ChargeID
	case "txid":
		return r.TxID
	case "rtxid":
		return r.RefTxID
	default:
		return ""
	}
}
