package mailbox

import (
	"context"
	"fmt"

	"github.com/aTiKhan/MailKit/engine"
	"github.com/aTiKhan/MailKit/transport"
)

// Reopener re-establishes a folder after the underlying transport drops:
// a fresh transport.Conn arrives from the caller's dialer, and the folder is
// re-SELECTed with QRESYNC/CONDSTORE parameters carried over from the last
// known state, so the client picks up VANISHED/FETCH updates for whatever it
// missed rather than resyncing from scratch.
type Reopener struct {
	client  *Client
	dialer  func(ctx context.Context) (transport.Conn, *engine.Session, error)
	backoff *transport.Reconnector
}

// NewReopener builds a Reopener over the given Client. dialer
// must return a freshly connected, authenticated Session each time it's
// called; Reopener never dials itself, since connection setup (TLS, SASL)
// is out of this package's scope.
func NewReopener(client *Client, dialer func(ctx context.Context) (transport.Conn, *engine.Session, error)) *Reopener {
	return &Reopener{client: client, dialer: dialer, backoff: transport.NewReconnector()}
}

// Reopen blocks, retrying with backoff, until fullName is SELECTed again on
// a fresh session. It switches the Client over to the new *engine.Session
// and also hands it to the caller-supplied rebind function so the caller can
// swap it into whatever else owns the old one. qr carries the QRESYNC resume point recorded from the folder
// before the disconnect; pass nil to fall back to a plain SELECT.
func (r *Reopener) Reopen(ctx context.Context, fullName string, qr *engine.QResyncState, rebind func(*engine.Session)) (*Folder, error) {
	var folder *Folder
	err := r.backoff.Run(ctx, func(ctx context.Context) error {
		_, sess, err := r.dialer(ctx)
		if err != nil {
			return fmt.Errorf("reopen %s: dial: %w", fullName, err)
		}
		r.client.sess = sess
		if rebind != nil {
			rebind(sess)
		}
		sess.AddListener(r.client.onUntagged)
		r.client.mu.Lock()
		if old, ok := r.client.registry[fullName]; ok {
			old.IsOpen = false
		}
		r.client.mu.Unlock()

		f, err := r.client.Open(ctx, fullName, AccessReadWrite, qr)
		if err != nil {
			return fmt.Errorf("reopen %s: select: %w", fullName, err)
		}
		folder = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// ResyncPoint captures a folder's current (uidvalidity, modseq) so a later
// Reopen call can resume via QRESYNC instead of a bare SELECT.
func ResyncPoint(f *Folder) *engine.QResyncState {
	if f == nil || f.UIDValidity == 0 {
		return nil
	}
	return &engine.QResyncState{UIDValidity: f.UIDValidity, ModSeq: f.HighestModSeq}
}
