package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdsync "sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lumicrm/mailsync/internal/models"
	"github.com/lumicrm/mailsync/internal/vault"
)

// ErrSyncInProgress is returned by SyncAccount when the account is already
// being synced. Callers are expected to treat it as "nothing to do": the
// running pass will pick up whatever triggered the request.
var ErrSyncInProgress = errors.New("sync already in progress for account")

// disabledStatus is what the account record shows after an authentication
// failure takes it out of rotation.
const disabledStatus = "needs re-authentication: stored credentials were rejected by the mail server"

// AccountSyncer runs one delta pass for one account. *Engine is the
// production implementation.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, account *models.Account) (models.SyncResult, error)
}

// Orchestrator schedules sync passes across all enabled accounts. Per-account
// overlap is prevented with a try-lock (a busy account is skipped, never
// queued), and total concurrency is capped with a weighted semaphore so a
// large account list cannot open unbounded IMAP connections.
type Orchestrator struct {
	directory Directory
	syncer    AccountSyncer

	interval time.Duration
	timeout  time.Duration
	slots    *semaphore.Weighted

	mu    stdsync.Mutex
	locks map[string]*stdsync.Mutex
}

func NewOrchestrator(directory Directory, syncer AccountSyncer, interval, timeout time.Duration, maxConcurrent int) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Orchestrator{
		directory: directory,
		syncer:    syncer,
		interval:  interval,
		timeout:   timeout,
		slots:     semaphore.NewWeighted(int64(maxConcurrent)),
		locks:     make(map[string]*stdsync.Mutex),
	}
}

// Run blocks, sweeping all accounts every interval until the context is
// cancelled. The first sweep starts immediately.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	log.Printf("orchestrator: starting, interval %s, timeout %s", o.interval, o.timeout)
	o.SyncAll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("orchestrator: stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			o.SyncAll(ctx)
		}
	}
}

// SyncAll runs one sweep over every enabled account and waits for it to
// finish. Accounts already mid-sync are counted as skipped.
func (o *Orchestrator) SyncAll(ctx context.Context) models.SweepResult {
	var result models.SweepResult

	accounts, err := o.directory.ListEnabledAccounts(ctx)
	if err != nil {
		log.Printf("orchestrator: failed to list accounts: %v", err)
		return result
	}
	if len(accounts) == 0 {
		return result
	}

	var wg stdsync.WaitGroup
	var mu stdsync.Mutex

	for _, account := range accounts {
		result.AccountsAttempted++

		lock := o.accountLock(account.ID)
		if !lock.TryLock() {
			result.AccountsSkipped++
			continue
		}

		if err := o.slots.Acquire(ctx, 1); err != nil {
			lock.Unlock()
			result.AccountsSkipped++
			continue
		}

		wg.Add(1)
		go func(account *models.Account) {
			defer wg.Done()
			defer o.slots.Release(1)
			defer lock.Unlock()

			err := o.syncOne(ctx, account)

			mu.Lock()
			if err != nil {
				result.AccountsFailed++
			} else {
				result.AccountsSucceeded++
			}
			mu.Unlock()
		}(account)
	}

	wg.Wait()
	return result
}

// SyncAccount triggers a pass for a single account, typically from a push
// notification or a manual request. Returns ErrSyncInProgress if a pass is
// already running for it.
func (o *Orchestrator) SyncAccount(ctx context.Context, accountID string) error {
	account, err := o.directory.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Enabled || !account.Verified {
		return fmt.Errorf("account %s is not active", account.Email)
	}

	lock := o.accountLock(account.ID)
	if !lock.TryLock() {
		return ErrSyncInProgress
	}
	defer lock.Unlock()

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.slots.Release(1)

	return o.syncOne(ctx, account)
}

// syncOne runs one account pass with the per-account timeout applied,
// records the outcome on the account row, and takes the account out of
// rotation when its credentials are rejected. A panic in the engine is
// contained here so one account cannot take the sweep down.
func (o *Orchestrator) syncOne(ctx context.Context, account *models.Account) (err error) {
	syncCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
			log.Printf("orchestrator: panic while syncing %s: %v", account.Email, r)
		}

		outcome := ""
		if err != nil {
			outcome = err.Error()
		}
		if recordErr := o.directory.RecordSyncOutcome(context.WithoutCancel(ctx), account.ID, outcome); recordErr != nil {
			log.Printf("orchestrator: failed to record outcome for %s: %v", account.Email, recordErr)
		}
	}()

	start := time.Now()
	result, err := o.syncer.SyncAccount(syncCtx, account)
	if err != nil {
		if errors.Is(err, vault.ErrAuthFailed) {
			log.Printf("orchestrator: disabling %s after auth failure: %v", account.Email, err)
			if disableErr := o.directory.DisableAccount(context.WithoutCancel(ctx), account.ID, disabledStatus); disableErr != nil {
				log.Printf("orchestrator: failed to disable %s: %v", account.Email, disableErr)
			}
		}
		return err
	}

	if len(result.Errors) > 0 {
		log.Printf("orchestrator: synced %s with %d errors in %s (fetched %d, created %d, updated %d)",
			account.Email, len(result.Errors), time.Since(start).Round(time.Millisecond), result.Fetched, result.Created, result.Updated)
		return fmt.Errorf("sync finished with %d errors, first: %s", len(result.Errors), result.Errors[0])
	}

	log.Printf("orchestrator: synced %s in %s (fetched %d, created %d, updated %d)",
		account.Email, time.Since(start).Round(time.Millisecond), result.Fetched, result.Created, result.Updated)
	return nil
}

// accountLock returns the mutex guarding one account's sync, creating it on
// first use. Lock entries are never removed; the set of accounts is small.
func (o *Orchestrator) accountLock(accountID string) *stdsync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.locks[accountID]
	if !ok {
		lock = &stdsync.Mutex{}
		o.locks[accountID] = lock
	}
	return lock
}
