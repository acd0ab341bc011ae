package sync

import (
	"context"
	"errors"
	"log"
	stdsync "sync"
	"time"

	"github.com/lumicrm/mailsync/internal/models"
	"github.com/lumicrm/mailsync/internal/vault"
)

// idleRetrySleep is the backoff after a dropped or failed IDLE connection.
const idleRetrySleep = 30 * time.Second

// idleRefreshInterval is how often the account list is re-read to pick up
// newly enabled accounts and drop disabled ones.
const idleRefreshInterval = time.Minute

// IdleListener keeps one long-lived IMAP IDLE connection per enabled account
// and triggers a targeted sync when the server announces new mail. It is the
// low-latency path for providers without webhook push; correctness never
// depends on it because the periodic sweep covers the same ground.
type IdleListener struct {
	vault     *vault.Vault
	directory Directory
	trigger   Triggerer

	mu      stdsync.Mutex
	running map[string]context.CancelFunc
}

func NewIdleListener(v *vault.Vault, directory Directory, trigger Triggerer) *IdleListener {
	return &IdleListener{
		vault:     v,
		directory: directory,
		trigger:   trigger,
		running:   make(map[string]context.CancelFunc),
	}
}

// Run blocks, reconciling one listener goroutine per enabled account until
// the context is cancelled.
func (l *IdleListener) Run(ctx context.Context) {
	ticker := time.NewTicker(idleRefreshInterval)
	defer ticker.Stop()

	l.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			l.stopAll()
			return
		case <-ticker.C:
			l.refresh(ctx)
		}
	}
}

// refresh starts listeners for accounts that gained one and stops listeners
// for accounts that are no longer enabled.
func (l *IdleListener) refresh(ctx context.Context) {
	accounts, err := l.directory.ListEnabledAccounts(ctx)
	if err != nil {
		log.Printf("idle: failed to list accounts: %v", err)
		return
	}

	want := make(map[string]*models.Account, len(accounts))
	for _, account := range accounts {
		want[account.ID] = account
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, cancel := range l.running {
		if _, ok := want[id]; !ok {
			cancel()
			delete(l.running, id)
		}
	}

	for id, account := range want {
		if _, ok := l.running[id]; ok {
			continue
		}
		accountCtx, cancel := context.WithCancel(ctx)
		l.running[id] = cancel
		go l.listen(accountCtx, account)
	}
}

func (l *IdleListener) stopAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, cancel := range l.running {
		cancel()
		delete(l.running, id)
	}
}

// listen holds a dedicated IDLE connection for one account, reconnecting with
// backoff until its context is cancelled. An auth failure ends the listener;
// the orchestrator's next pass will disable the account.
func (l *IdleListener) listen(ctx context.Context, account *models.Account) {
	log.Printf("idle: starting listener for %s", account.Email)
	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.listenOnce(ctx, account); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, vault.ErrAuthFailed) {
				log.Printf("idle: auth failure for %s, stopping listener", account.Email)
				return
			}
			log.Printf("idle: connection for %s ended: %v", account.Email, err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(idleRetrySleep):
		}
	}
}

func (l *IdleListener) listenOnce(ctx context.Context, account *models.Account) error {
	session, err := l.vault.Connect(ctx, account)
	if err != nil {
		return err
	}
	defer session.Logout()

	if _, _, err := session.SelectFolder(inboxFolder); err != nil {
		return err
	}

	return session.Idle(ctx, func() {
		if err := l.trigger.SyncAccount(ctx, account.ID); err != nil && !errors.Is(err, ErrSyncInProgress) {
			log.Printf("idle: failed to sync %s after update: %v", account.Email, err)
		}
	})
}
