package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// WithSignals returns a context cancelled on SIGINT or SIGTERM. A second
// signal after cancellation falls through to the default handler and kills
// the process.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// OnDone waits for ctx to end and then calls stop with a fresh context bounded
// by grace. It is meant to be handed to errgroup.Group.Go next to the
// component it stops.
func OnDone(ctx context.Context, grace time.Duration, stop func(context.Context) error) func() error {
	return func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		return stop(stopCtx)
	}
}
