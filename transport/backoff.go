package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Reconnector retries a dial/select sequence with exponential backoff after a
// transient disconnect. The IMAP wire offers no mid-command recovery (see
// engine.Session's disconnect-on-cancel policy), so the unit of retry is
// always "establish a fresh session", never a single command.
type Reconnector struct {
	b backoff.BackOff
}

// NewReconnector builds a Reconnector with sensible defaults for a long-lived
// mail client: a few seconds initial delay growing to a few minutes, retried
// indefinitely until ctx is canceled.
func NewReconnector() *Reconnector {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * time.Second
	eb.MaxInterval = 5 * time.Minute
	eb.MaxElapsedTime = 0 // retry forever; caller's context bounds it
	return &Reconnector{b: eb}
}

// Run calls fn until it succeeds or ctx is done, sleeping per the backoff
// policy between attempts.
func (r *Reconnector) Run(ctx context.Context, fn func(context.Context) error) error {
	r.b.Reset()
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := r.b.NextBackOff()
		if d == backoff.Stop {
			return err
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
