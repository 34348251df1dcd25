package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdGetInfo answers one of a handful of config/status sub-queries.
func (d *Dispatcher) cmdGetInfo(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	switch sub, rest := leadingSub(args); sub {
	case "list-currencies":
		_ = rest
		out := keyvalue.New()
		for i := 0; ; i++ {
			code, desc, rate, ok := d.deps.Currency.Info(i)
			if !ok {
				break
			}
			out.Set("_currency["+strconv.Itoa(i)+"]", fmt.Sprintf("%s %11.4f - %s", code, rate, desc))
		}
		return protocol.OKResponse("", out), nil, nil

	case "version":
		return protocol.OKResponse(d.deps.Version, nil), nil, nil

	case "pid":
		return protocol.OKResponse(strconv.Itoa(d.deps.Pid), nil), nil, nil

	case "live":
		if d.deps.Live {
			return protocol.OKResponse("", nil), nil, nil
		}
		return nil, nil, perr.NotLive

	default:
		return nil, nil, perr.UnknownCommand.Withf("Unknown sub-command")
	}
}

// leadingSub splits args into its first whitespace-delimited keyword and
// the remainder, mirroring has_leading_keyword's matching used throughout
// commands.c for sub-command dispatch.
func leadingSub(args string) (sub, rest string) {
	i := 0
	for i < len(args) && args[i] != ' ' && args[i] != '\t' {
		i++
	}
	sub = args[:i]
	for i < len(args) && (args[i] == ' ' || args[i] == '\t') {
		i++
	}
	return sub, args[i:]
}
