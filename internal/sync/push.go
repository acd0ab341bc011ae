package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// inboxFolder is the canonical inbox name. RFC 3501 reserves it
// case-insensitively, so provider push notifications always map here.
const inboxFolder = "INBOX"

// Notification is what a provider push delivery boils down to: which mailbox
// changed and, for providers that have one, the opaque history marker.
type Notification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

// Triggerer starts a targeted sync pass. *Orchestrator is the production
// implementation.
type Triggerer interface {
	SyncAccount(ctx context.Context, accountID string) error
}

// PushBridge turns provider push notifications into targeted sync passes.
// Push is an accelerator only: a dropped notification costs latency, not
// correctness, because the periodic sweep covers the same ground.
type PushBridge struct {
	directory Directory
	store     Store
	trigger   Triggerer
}

func NewPushBridge(directory Directory, store Store, trigger Triggerer) *PushBridge {
	return &PushBridge{directory: directory, store: store, trigger: trigger}
}

// Handle processes one notification: resolve the account, persist the history
// marker, and kick off a sync. An already-running sync is fine, the running
// pass will observe the new messages.
func (b *PushBridge) Handle(ctx context.Context, n Notification) error {
	if n.EmailAddress == "" {
		return fmt.Errorf("notification has no email address")
	}

	account, err := b.directory.GetAccountByEmail(ctx, n.EmailAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve push target %s: %w", n.EmailAddress, err)
	}
	if !account.Enabled || !account.Verified {
		log.Printf("push: ignoring notification for inactive account %s", account.Email)
		return nil
	}

	if n.HistoryID != "" && account.SupportsHistoryID {
		if err := b.recordHistoryID(ctx, account.ID, n.HistoryID); err != nil {
			// The marker is advisory; the UID cursor still drives the sync.
			log.Printf("push: failed to record history id for %s: %v", account.Email, err)
		}
	}

	if err := b.trigger.SyncAccount(ctx, account.ID); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			log.Printf("push: sync already running for %s, notification absorbed", account.Email)
			return nil
		}
		return fmt.Errorf("failed to sync %s after push: %w", account.Email, err)
	}

	return nil
}

// recordHistoryID stores the latest provider history marker on the inbox
// checkpoint without touching the UID cursor.
func (b *PushBridge) recordHistoryID(ctx context.Context, accountID, historyID string) error {
	cp, err := b.store.GetCheckpoint(ctx, accountID, inboxFolder)
	if err != nil {
		return err
	}
	if cp.HistoryID == historyID {
		return nil
	}

	cp.AccountID = accountID
	cp.Folder = inboxFolder
	cp.HistoryID = historyID
	return b.store.SaveCheckpoint(ctx, cp)
}

var _ Triggerer = (*Orchestrator)(nil)
var _ AccountSyncer = (*Engine)(nil)
