package imap

import (
	"context"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
)

// idleFallbackPoll is the polling interval used when the server does not
// support the IDLE extension.
const idleFallbackPoll = 5 * time.Minute

// Idle blocks in an IMAP IDLE loop on the currently selected folder and calls
// onUpdate whenever the server reports new messages. It returns when the
// context is cancelled or the connection drops; the session is not reusable
// for other commands while idling.
func (s *Session) Idle(ctx context.Context, onUpdate func()) error {
	idleClient := idle.NewClient(s.c)

	updates := make(chan client.Update, 10)
	s.c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, idleFallbackPoll)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return ctx.Err()
		case err := <-done:
			return err
		case update := <-updates:
			mboxUpdate, ok := update.(*client.MailboxUpdate)
			if !ok || mboxUpdate.Mailbox == nil || mboxUpdate.Mailbox.Messages == 0 {
				continue
			}
			onUpdate()
		}
	}
}
