package sync

import (
	"context"

	goimap "github.com/emersion/go-imap"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
	"github.com/lumicrm/mailsync/internal/vault"
)

// Session is the transport surface the engine drives. *imap.Session is the
// production implementation; tests use in-memory fakes.
type Session interface {
	SelectFolder(name string) (uidValidity uint32, messages uint32, err error)
	SearchSinceUID(lastUID uint32) ([]uint32, error)
	FetchHeaders(uids []uint32) ([]*goimap.Message, error)
	FetchRaw(uid uint32) ([]byte, error)
	ListFolders() ([]*goimap.MailboxInfo, error)
	Logout() error
}

// Connector opens an authenticated session for an account.
type Connector interface {
	Connect(ctx context.Context, account *models.Account) (Session, error)
}

// VaultConnector adapts the credential vault to the Connector interface.
type VaultConnector struct {
	Vault *vault.Vault
}

func (c *VaultConnector) Connect(ctx context.Context, account *models.Account) (Session, error) {
	session, err := c.Vault.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Store is the persistence surface the engine writes through.
type Store interface {
	GetCheckpoint(ctx context.Context, accountID, folder string) (*models.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error
	ResetCheckpoint(ctx context.Context, accountID, folder string, uidValidity uint32) error
	MessageExists(ctx context.Context, accountID, messageID string) (bool, error)
	IngestMessage(ctx context.Context, msg *models.Message, attachments []models.Attachment) (created bool, err error)
	UpdateMessageFlags(ctx context.Context, accountID, messageID string, isRead, isStarred bool, folder string, imapUID int64) error
}

// DBStore implements Store against the database.
type DBStore struct {
	Pool *pgxpool.Pool
}

func (s *DBStore) GetCheckpoint(ctx context.Context, accountID, folder string) (*models.Checkpoint, error) {
	return db.GetCheckpoint(ctx, s.Pool, accountID, folder)
}

func (s *DBStore) SaveCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	return db.UpsertCheckpoint(ctx, s.Pool, cp)
}

func (s *DBStore) ResetCheckpoint(ctx context.Context, accountID, folder string, uidValidity uint32) error {
	return db.ResetCheckpoint(ctx, s.Pool, accountID, folder, uidValidity)
}

func (s *DBStore) MessageExists(ctx context.Context, accountID, messageID string) (bool, error) {
	return db.MessageExists(ctx, s.Pool, accountID, messageID)
}

func (s *DBStore) IngestMessage(ctx context.Context, msg *models.Message, attachments []models.Attachment) (bool, error) {
	return db.IngestMessage(ctx, s.Pool, msg, attachments)
}

func (s *DBStore) UpdateMessageFlags(ctx context.Context, accountID, messageID string, isRead, isStarred bool, folder string, imapUID int64) error {
	return db.UpdateMessageFlags(ctx, s.Pool, accountID, messageID, isRead, isStarred, folder, imapUID)
}

// Threader links ingested messages into conversations.
type Threader interface {
	Thread(ctx context.Context, msg *models.Message) error
	Reconcile(ctx context.Context, accountID string) (int, error)
}

// BlobStore stores attachment bytes by content hash.
type BlobStore interface {
	Put(hash string, content []byte) (string, error)
}

// Directory lists and updates accounts for the orchestrator.
type Directory interface {
	ListEnabledAccounts(ctx context.Context) ([]*models.Account, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	RecordSyncOutcome(ctx context.Context, accountID, syncError string) error
	DisableAccount(ctx context.Context, accountID, statusMessage string) error
}

// DBDirectory implements Directory against the database.
type DBDirectory struct {
	Pool *pgxpool.Pool
}

func (d *DBDirectory) ListEnabledAccounts(ctx context.Context) ([]*models.Account, error) {
	return db.ListEnabledAccounts(ctx, d.Pool)
}

func (d *DBDirectory) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return db.GetAccount(ctx, d.Pool, accountID)
}

func (d *DBDirectory) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return db.GetAccountByEmail(ctx, d.Pool, email)
}

func (d *DBDirectory) RecordSyncOutcome(ctx context.Context, accountID, syncError string) error {
	return db.RecordSyncOutcome(ctx, d.Pool, accountID, syncError)
}

func (d *DBDirectory) DisableAccount(ctx context.Context, accountID, statusMessage string) error {
	return db.DisableAccount(ctx, d.Pool, accountID, statusMessage)
}
