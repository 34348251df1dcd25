package commands

import (
	"context"
	"strconv"
	"time"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdSession implements the multi-purpose SESSION command: create, get,
// put, destroy, alias, dealias, sessid. Each sub-command carries its own
// argument (a TTL for create, a session or alias id for the rest).
func (d *Dispatcher) cmdSession(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	sub, rest := leadingSub(args)

	var sessid, aliasid string
	var err error

	switch sub {
	case "create":
		ttl := time.Duration(0)
		if rest != "" {
			if n, convErr := strconv.Atoi(rest); convErr == nil && n > 0 {
				ttl = time.Duration(n) * time.Second
			}
		}
		sessid, err = d.deps.Sessions.Create(ttl, dict)
		dict = keyvalue.New()

	case "get":
		dict, err = d.deps.Sessions.Get(rest)
		if dict == nil {
			dict = keyvalue.New()
		}

	case "put":
		err = d.deps.Sessions.Put(rest, dict)
		dict = keyvalue.New()

	case "destroy":
		err = d.deps.Sessions.Destroy(rest)
		dict = keyvalue.New()

	case "alias":
		aliasid, err = d.deps.Sessions.CreateAlias(rest)
		dict = keyvalue.New()

	case "dealias":
		err = d.deps.Sessions.DestroyAlias(rest)
		dict = keyvalue.New()

	case "sessid":
		sessid, err = d.deps.Sessions.SessID(rest)
		dict = keyvalue.New()

	default:
		return nil, nil, perr.UnknownCommand.Withf("Unknown sub-command")
	}

	if err != nil {
		return nil, nil, sessionErrDesc(err)
	}

	reply := public(dict)
	if sessid != "" {
		reply.Set("_SESSID", sessid)
	}
	if aliasid != "" {
		reply.Set("_ALIASID", aliasid)
	}
	return protocol.OKResponse("", reply), nil, nil
}

// sessionErrDesc overrides the store's generic error description with the
// specific wording cmd_session's switch on gpg_err_code gives each case,
// while keeping the same wire code.
func sessionErrDesc(err error) error {
	pe, ok := err.(*perr.Error)
	if !ok {
		return err
	}
	switch pe {
	case perr.LimitReached:
		return pe.Withf("Too many active sessions or too many aliases for a session")
	case perr.NotFound:
		return pe.Withf("No such session or alias or session timed out")
	case perr.InvName:
		return pe.Withf("Invalid session or alias id")
	default:
		return pe
	}
}
