// Package commands implements the daemon's command dispatch table: one
// entry per command name, each wired to a handler that reads its data
// dictionary and returns a reply.
package commands

import (
	"context"

	"github.com/gnupg/payproc/internal/account"
	"github.com/gnupg/payproc/internal/currency"
	"github.com/gnupg/payproc/internal/journal"
	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/paypal"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/preorder"
	"github.com/gnupg/payproc/internal/protocol"
	"github.com/gnupg/payproc/internal/session"
	"github.com/gnupg/payproc/internal/stripe"
)

// Deps collects everything a handler may need. A Dispatcher built with a
// zero-value field for a dependency a given handler doesn't use (e.g. a
// test exercising only PING) is fine; handlers that do need it will panic
// on a nil dereference, same as a missing wiring step would in the daemon.
type Deps struct {
	Version string
	Pid     int
	Live    bool

	Sessions  *session.Store
	Preorders *preorder.Store
	Accounts  *account.Store
	Currency  *currency.Table
	Journal   *journal.Writer

	Stripe *stripe.Client
	PayPal *paypal.Client

	// Shutdown is invoked by the SHUTDOWN command after it has already
	// written its reply; it should trigger an orderly listener close.
	Shutdown func()
}

// Handler serves one command. args is the remainder of the status line
// after the command keyword (and, for commands with sub-commands, still
// includes the sub-command keyword — each handler does its own leading
// keyword matching, mirroring has_leading_keyword's use throughout
// commands.c). dict is the request's parsed, already name-filtered data
// dictionary; handlers mutate it freely as scratch space, exactly as the
// original reuses conn->dataitems in place.
//
// async, if non-nil, is run by the caller after the response has been
// written and the connection closed. PPIPNHD uses this to answer "OK" and
// hang up before the (slow, unobservable) IPN verification happens, and
// SHUTDOWN uses it to send its reply before the server stops.
type Handler func(ctx context.Context, args string, dict *keyvalue.Dict) (resp *protocol.Response, async func(), err error)

// Entry is one row of the command table.
type Entry struct {
	Name    string
	Admin   bool
	Handler Handler
}

// Dispatcher holds the command table built from a set of Deps.
type Dispatcher struct {
	deps  Deps
	table []Entry
}

// New builds the dispatcher and its command table.
func New(deps Deps) *Dispatcher {
	d := &Dispatcher{deps: deps}
	d.table = []Entry{
		{Name: "SESSION", Handler: d.cmdSession},
		{Name: "CARDTOKEN", Handler: d.cmdCardtoken},
		{Name: "CHARGECARD", Handler: d.cmdChargecard},
		{Name: "PPCHECKOUT", Handler: d.cmdPPCheckout},
		{Name: "SEPAPREORDER", Handler: d.cmdSepaPreorder},
		{Name: "CHECKAMOUNT", Handler: d.cmdCheckAmount},
		{Name: "PPIPNHD", Handler: d.cmdPPIPNHD},
		{Name: "GETINFO", Handler: d.cmdGetInfo},
		{Name: "PING", Handler: d.cmdPing},
		{Name: "COMMITPREORDER", Admin: true, Handler: d.cmdCommitPreorder},
		{Name: "GETPREORDER", Admin: true, Handler: d.cmdGetPreorder},
		{Name: "LISTPREORDER", Admin: true, Handler: d.cmdListPreorder},
		{Name: "SHUTDOWN", Admin: true, Handler: d.cmdShutdown},
		{Name: "HELP", Handler: d.cmdHelp},
	}
	return d
}

// Table returns the command table in registration order, for callers
// (the connection handler, HELP) that need to walk it.
func (d *Dispatcher) Table() []Entry {
	return d.table
}

// Lookup finds the entry named command, a bare keyword (the wire protocol
// has already split it from its trailing arguments by the time a request
// reaches the dispatcher, unlike the original C parser which matched
// has_leading_keyword against the whole, not-yet-split command line).
func (d *Dispatcher) Lookup(command string) (Entry, bool) {
	for _, e := range d.table {
		if e.Name == command {
			return e, true
		}
	}
	return Entry{}, false
}

// Dispatch runs the named command's handler and turns its outcome into a
// wire-ready Response, filling in "failure"/"failure-mesg" data on error
// the way every cmd_* leave: block in commands.c does. admin gating and
// unknown-command handling happen one level up, in the connection
// handler, which is what needs the peer's UID to decide them.
func (d *Dispatcher) Dispatch(ctx context.Context, entry Entry, args string, dict *keyvalue.Dict) (*protocol.Response, func()) {
	resp, async, err := entry.Handler(ctx, args, dict)
	if err != nil {
		pe, ok := err.(*perr.Error)
		if !ok {
			pe = perr.InternalError.Withf("%s", err.Error())
		}
		failure := keyvalue.New()
		if v, ok := dict.Get("failure"); ok {
			failure.Set("failure", v)
		}
		if v, ok := dict.Get("failure-mesg"); ok {
			failure.Set("failure-mesg", v)
		}
		return protocol.ErrResponse(pe, failure), nil
	}
	return resp, async
}

// public builds a reply dictionary containing every pair from dict whose
// name starts with an uppercase ASCII letter ('A' through 'Z' inclusive),
// the filter every leave: block in commands.c applies before echoing
// dataitems back to the caller, except that the C test stops short of 'Z'
// and this one lets names starting with 'Z' through as well. Fields
// that don't fit that convention (account-id, _timestamp, _SESSID, ...)
// are never swept in here; handlers set them explicitly afterwards.
func public(dict *keyvalue.Dict) *keyvalue.Dict {
	out := keyvalue.New()
	for _, p := range dict.Pairs() {
		if len(p.Name) > 0 && p.Name[0] >= 'A' && p.Name[0] <= 'Z' {
			out.Set(p.Name, p.Value)
		}
	}
	return out
}

// validRecur parses a recurrence interval, defaulting an empty string to
// 0 (no recurrence). The original declares valid_recur_p in currency.h
// but its body isn't part of the distributed source; 0/1/4/12 (not
// recurring / yearly / quarterly / monthly) is the closed set every
// caller in commands.c documents.
func validRecur(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
		if n > 12 {
			return 0, false
		}
	}
	switch n {
	case 0, 1, 4, 12:
		return n, true
	default:
		return 0, false
	}
}

// isValidMailbox does a light sanity check on an email address: non-empty,
// a single '@' with something on both sides, no embedded whitespace or
// quotes. is_valid_mailbox's body isn't part of the distributed source
// either; this mirrors the lightweight-validation idiom already used for
// Return-Url/Cancel-Url in the PayPal client rather than attempting full
// RFC 5321 grammar.
func isValidMailbox(s string) bool {
	if s == "" {
		return false
	}
	at := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '@':
			if at >= 0 {
				return false
			}
			at = i
		case ' ', '\t', '"', '\'':
			return false
		}
	}
	return at > 0 && at < len(s)-1
}
