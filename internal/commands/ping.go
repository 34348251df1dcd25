package commands

import (
	"context"
	"strconv"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdPing answers with the given argument, or "pong" if none was given.
func (d *Dispatcher) cmdPing(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	if args == "" {
		args = "pong"
	}
	return protocol.OKResponse(args, nil), nil, nil
}

// cmdHelp lists every registered command name, in table order, as
// "_cmd[N]" data items of the reply so callers can discover the protocol
// surface without consulting documentation.
func (d *Dispatcher) cmdHelp(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	names := keyvalue.New()
	for i, e := range d.table {
		names.Set("_cmd["+strconv.Itoa(i)+"]", e.Name)
	}
	return protocol.OKResponse("", names), nil, nil
}
