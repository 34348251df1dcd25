package commands

import (
	"context"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdCardtoken turns a raw card number into a one-time Stripe token.
func (d *Dispatcher) cmdCardtoken(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	if err := d.deps.Stripe.CreateCardToken(ctx, dict); err != nil {
		return nil, nil, err
	}
	return protocol.OKResponse("", public(dict)), nil, nil
}
