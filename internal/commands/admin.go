package commands

import (
	"context"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/protocol"
)

// cmdShutdown tells the caller the daemon is going down, then triggers an
// orderly shutdown. The reply is written before Shutdown runs so the
// caller's connection isn't torn down mid-response.
func (d *Dispatcher) cmdShutdown(ctx context.Context, args string, dict *keyvalue.Dict) (*protocol.Response, func(), error) {
	async := func() {
		if d.deps.Shutdown != nil {
			d.deps.Shutdown()
		}
	}
	return protocol.OKResponse("terminating daemon", nil), async, nil
}
