// Package journal implements payprocd's append-only transaction log: one
// line per charge or refund, colon-delimited and percent-escaped, rotated
// into a new file every UTC day keyed by the record's own timestamp (not
// the wall-clock time of the write), so a burst of backdated or delayed
// writes around midnight still lands in the right day's file.
package journal

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gnupg/payproc/internal/keyvalue"
)

// RecordType is the single-character journal record type.
type RecordType byte

const (
	TypeSync   RecordType = '-'
	TypeSystem RecordType = '$'
	TypeCharge RecordType = 'C'
	TypeRefund RecordType = 'R'
)

// Service identifies the payment service a charge record belongs to.
type Service int

const (
	ServiceNone Service = iota
	ServiceStripe
	ServiceSEPA
	ServicePayPal
)

const TimestampLayout = "20060102T150405"

// escapeSet is the set of bytes that must be percent-escaped in a journal
// field: the field delimiter, the meta delimiter, line terminators, and the
// escape character itself.
const escapeSet = ":&\n\r%"

// FatalFunc is called when a journal write fails. The daemon would rather
// stop accepting new charges than silently lose a transaction record; the
// default terminates the process.
type FatalFunc func(err error)

// Writer is the concurrency-safe append-only journal file writer.
type Writer struct {
	mu       sync.Mutex
	basename string
	suffix   string
	file     *os.File
	onFatal  FatalFunc
}

// New creates a journal writer rooted at basename (e.g.
// "/var/log/payproc/journal"; the writer appends "-YYYYMMDD.log"). An
// empty basename disables the journal entirely — writes become no-ops,
// matching the original daemon's "journal not enabled" behaviour.
func New(basename string, onFatal FatalFunc) *Writer {
	if onFatal == nil {
		onFatal = func(err error) {
			fmt.Fprintf(os.Stderr, "fatal: journal write failed: %v\n", err)
			os.Exit(4)
		}
	}
	return &Writer{basename: basename, onFatal: onFatal}
}

func escapeField(s string) string {
	if !strings.ContainsAny(s, escapeSet) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if strings.IndexByte(escapeSet, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func writeMeta(dict *keyvalue.Dict) string {
	var b strings.Builder
	first := true
	for _, key := range dict.MetaKeys() {
		value, _ := dict.Get(keyvalue.MetaName(key))
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(escapeField(key))
		b.WriteByte('=')
		b.WriteString(escapeField(value))
	}
	return b.String()
}

// write appends one fully-formed record line (without its trailing
// newline) to the journal, rotating the file if the record's date has
// changed since the last write.
func (w *Writer) write(recordDate time.Time, line string) {
	if w.basename == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	suffix := recordDate.Format("20060102")
	if w.file == nil || w.suffix != suffix {
		if w.file != nil {
			if err := w.file.Close(); err != nil {
				w.onFatal(fmt.Errorf("closing journal file: %w", err))
				return
			}
		}
		fullname := fmt.Sprintf("%s-%s.log", w.basename, suffix)
		f, err := os.OpenFile(fullname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			w.onFatal(fmt.Errorf("opening journal file %q: %w", fullname, err))
			return
		}
		w.file = f
		w.suffix = suffix
	}

	if _, err := w.file.WriteString(line + "\n"); err != nil {
		w.onFatal(fmt.Errorf("writing journal record: %w", err))
		return
	}
	if err := w.file.Sync(); err != nil {
		w.onFatal(fmt.Errorf("flushing journal file: %w", err))
	}
}

// Close closes the currently open journal file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// StoreSystem writes a system record (type '$') carrying a free-text
// message.
func (w *Writer) StoreSystem(text string) {
	now := time.Now().UTC()
	fields := []string{
		now.Format(TimestampLayout),
		string(TypeSystem),
		"", "", escapeField(text), "", "", "", "", "", "", "", "", "", "",
	}
	w.write(now, strings.Join(fields, ":"))
}

// StoreExchangeRate writes a system record documenting a currency
// conversion rate update.
func (w *Writer) StoreExchangeRate(currency string, rate float64) {
	now := time.Now().UTC()
	fields := []string{
		now.Format(TimestampLayout),
		string(TypeSystem),
		"1",
		currency,
		fmt.Sprintf("%f", rate),
		"new exchange rate",
		"", "", "", "", "", "", "", "1.0", "",
	}
	w.write(now, strings.Join(fields, ":"))
}

// ChargeRecord holds the fields of a charge (or refund) transaction. Amount
// is the decimal-point string form, not the gateway's smallest-unit integer.
type ChargeRecord struct {
	Live        bool
	Currency    string
	Amount      string
	Desc        string
	Email       string
	Meta        *keyvalue.Dict
	Last4       string
	Service     Service
	Account     string
	ChargeID    string
	TxID        string
	RefTxID     string
	EuroAmount  string
}

func serviceCode(s Service) string {
	switch s {
	case ServiceStripe:
		return "1"
	case ServiceSEPA:
		return "2"
	case ServicePayPal:
		return "3"
	default:
		return "0"
	}
}

// StoreCharge writes a charge record (type 'C') and returns the timestamp
// it used, so the caller can merge "_timestamp" into the reply dictionary
// exactly as the original daemon does.
func (w *Writer) StoreCharge(rec ChargeRecord) string {
	return w.storeTyped(TypeCharge, rec)
}

// StoreRefund writes a refund record (type 'R'); same field layout as a
// charge, RefTxID identifies the transaction being refunded.
func (w *Writer) StoreRefund(rec ChargeRecord) string {
	return w.storeTyped(TypeRefund, rec)
}

func (w *Writer) storeTyped(t RecordType, rec ChargeRecord) string {
	now := time.Now().UTC()
	timestamp := now.Format(TimestampLayout)

	live := "0"
	if rec.Live {
		live = "1"
	}

	var meta string
	if rec.Meta != nil {
		meta = writeMeta(rec.Meta)
	}

	fields := []string{
		timestamp,
		string(t),
		live,
		escapeField(rec.Currency),
		escapeField(rec.Amount),
		escapeField(rec.Desc),
		escapeField(rec.Email),
		meta,
		escapeField(rec.Last4),
		serviceCode(rec.Service),
		escapeField(rec.Account),
		escapeField(rec.ChargeID),
		escapeField(rec.TxID),
		escapeField(rec.RefTxID),
		escapeField(rec.EuroAmount),
	}
	w.write(now, strings.Join(fields, ":"))
	return timestamp
}
