package actions

import (
	"context"
	"fmt"
	"log"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
	"github.com/lumicrm/mailsync/internal/vault"
)

// Default special folder names used when an account has no override. Most
// providers accept these; the rest are configured per account.
const (
	defaultArchiveFolder = "Archive"
	defaultTrashFolder   = "Trash"
	defaultDraftsFolder  = "Drafts"
)

// MessageStore is the local persistence surface the gateway mutates.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	SetRead(ctx context.Context, id string, isRead bool) (wasRead bool, err error)
	SetStarred(ctx context.Context, id string, isStarred bool) error
	SetFolder(ctx context.Context, id, folder string, isTrash, isSpam bool) error
	SetSnooze(ctx context.Context, id string, until *time.Time) error
	MarkNeedsReconcile(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	AdjustUnread(ctx context.Context, accountID, conversationID string, delta int) error
	Detach(ctx context.Context, accountID, conversationID string, wasUnreadReceived bool) error
}

// DBMessageStore implements MessageStore against the database.
type DBMessageStore struct {
	Pool *pgxpool.Pool
}

func (s *DBMessageStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return db.GetMessage(ctx, s.Pool, id)
}

func (s *DBMessageStore) SetRead(ctx context.Context, id string, isRead bool) (bool, error) {
	return db.SetMessageRead(ctx, s.Pool, id, isRead)
}

func (s *DBMessageStore) SetStarred(ctx context.Context, id string, isStarred bool) error {
	return db.SetMessageStarred(ctx, s.Pool, id, isStarred)
}

func (s *DBMessageStore) SetFolder(ctx context.Context, id, folder string, isTrash, isSpam bool) error {
	return db.SetMessageFolder(ctx, s.Pool, id, folder, isTrash, isSpam)
}

func (s *DBMessageStore) SetSnooze(ctx context.Context, id string, until *time.Time) error {
	return db.SetMessageSnooze(ctx, s.Pool, id, until)
}

func (s *DBMessageStore) MarkNeedsReconcile(ctx context.Context, id string) error {
	return db.MarkNeedsReconcile(ctx, s.Pool, id)
}

func (s *DBMessageStore) Delete(ctx context.Context, id string) error {
	return db.DeleteMessage(ctx, s.Pool, id)
}

func (s *DBMessageStore) AdjustUnread(ctx context.Context, accountID, conversationID string, delta int) error {
	return db.AdjustConversationUnread(ctx, s.Pool, accountID, conversationID, delta)
}

func (s *DBMessageStore) Detach(ctx context.Context, accountID, conversationID string, wasUnreadReceived bool) error {
	return db.DetachMessageFromConversation(ctx, s.Pool, accountID, conversationID, wasUnreadReceived)
}

// Remote is the mailbox surface the gateway mirrors mutations onto.
type Remote interface {
	SelectFolder(name string) (uint32, uint32, error)
	AddFlags(uids []uint32, flags ...string) error
	RemoveFlags(uids []uint32, flags ...string) error
	MoveTo(uids []uint32, folder string) error
	Delete(uids []uint32) error
	Append(folder string, raw []byte, flags ...string) error
	Logout() error
}

// Connector opens an authenticated remote mailbox for an account.
type Connector interface {
	Connect(ctx context.Context, account *models.Account) (Remote, error)
}

// VaultConnector adapts the credential vault to the Connector interface.
type VaultConnector struct {
	Vault *vault.Vault
}

func (c *VaultConnector) Connect(ctx context.Context, account *models.Account) (Remote, error) {
	session, err := c.Vault.Connect(ctx, account)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Gateway applies CRM-initiated mutations local-first: the database row is
// updated before the IMAP write, and a failed remote write flags the row for
// reconciliation instead of rolling back. The CRM view stays responsive; the
// next sync pass repairs the divergence.
type Gateway struct {
	store     MessageStore
	connector Connector
}

func NewGateway(store MessageStore, connector Connector) *Gateway {
	return &Gateway{store: store, connector: connector}
}

// Apply performs one action against each message id in order. Per-message
// failures are reported in the results, not as an error; the returned error
// covers request-level problems only.
func (g *Gateway) Apply(ctx context.Context, account *models.Account, messageIDs []string, action models.Action) ([]models.ActionResult, error) {
	if action.Type == models.ActionSaveDraft {
		return g.saveDraft(ctx, account, action)
	}
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("no message ids given")
	}
	if action.Type == models.ActionMoveToFolder && action.TargetFolder == "" {
		return nil, fmt.Errorf("move_to_folder requires a target folder")
	}

	remote := g.lazyRemote(ctx, account)
	defer remote.logout()

	results := make([]models.ActionResult, 0, len(messageIDs))
	for _, id := range messageIDs {
		results = append(results, g.applyOne(ctx, account, remote, id, action))
	}
	return results, nil
}

func (g *Gateway) applyOne(ctx context.Context, account *models.Account, remote *lazyRemote, id string, action models.Action) models.ActionResult {
	result := models.ActionResult{MessageID: id}

	msg, err := g.store.GetMessage(ctx, id)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if msg.AccountID != account.ID {
		result.Error = "message does not belong to account"
		return result
	}

	remoteOp, err := g.applyLocal(ctx, account, msg, action)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Applied = true

	if remoteOp == nil {
		// Nothing to mirror; snooze is a CRM-side state only.
		result.RemoteSynced = true
		return result
	}

	if err := g.mirror(ctx, remote, msg, remoteOp); err != nil {
		log.Printf("actions: remote write for message %s failed, flagged for reconcile: %v", id, err)
		result.Error = err.Error()
		if action.Type != models.ActionDelete || !action.Permanent {
			if markErr := g.store.MarkNeedsReconcile(ctx, id); markErr != nil {
				log.Printf("actions: failed to flag message %s: %v", id, markErr)
			}
		}
		return result
	}

	result.RemoteSynced = true
	return result
}

// remoteOp is the IMAP side of one applied action.
type remoteOp struct {
	addFlags     []string
	removeFlags  []string
	moveToFolder string
	expunge      bool
}

// applyLocal mutates the database row and conversation counters, returning
// the remote operation still to be mirrored. A nil remoteOp means the action
// is local-only.
func (g *Gateway) applyLocal(ctx context.Context, account *models.Account, msg *models.Message, action models.Action) (*remoteOp, error) {
	switch action.Type {
	case models.ActionMarkRead:
		wasRead, err := g.store.SetRead(ctx, msg.ID, true)
		if err != nil {
			return nil, err
		}
		if !wasRead {
			g.adjustUnread(ctx, msg, -1)
		}
		return &remoteOp{addFlags: []string{goimap.SeenFlag}}, nil

	case models.ActionMarkUnread:
		wasRead, err := g.store.SetRead(ctx, msg.ID, false)
		if err != nil {
			return nil, err
		}
		if wasRead {
			g.adjustUnread(ctx, msg, 1)
		}
		return &remoteOp{removeFlags: []string{goimap.SeenFlag}}, nil

	case models.ActionStar:
		if err := g.store.SetStarred(ctx, msg.ID, true); err != nil {
			return nil, err
		}
		return &remoteOp{addFlags: []string{goimap.FlaggedFlag}}, nil

	case models.ActionUnstar:
		if err := g.store.SetStarred(ctx, msg.ID, false); err != nil {
			return nil, err
		}
		return &remoteOp{removeFlags: []string{goimap.FlaggedFlag}}, nil

	case models.ActionArchive:
		folder := folderOrDefault(account.FolderOverrides.Archive, defaultArchiveFolder)
		if err := g.store.SetFolder(ctx, msg.ID, folder, false, false); err != nil {
			return nil, err
		}
		return &remoteOp{moveToFolder: folder}, nil

	case models.ActionMoveToFolder:
		if err := g.store.SetFolder(ctx, msg.ID, action.TargetFolder, false, false); err != nil {
			return nil, err
		}
		return &remoteOp{moveToFolder: action.TargetFolder}, nil

	case models.ActionDelete:
		if action.Permanent {
			if msg.ConversationID != nil {
				wasUnreadReceived := !msg.IsRead && msg.Direction == models.DirectionReceived
				if err := g.store.Detach(ctx, msg.AccountID, *msg.ConversationID, wasUnreadReceived); err != nil {
					return nil, err
				}
			}
			if err := g.store.Delete(ctx, msg.ID); err != nil {
				return nil, err
			}
			return &remoteOp{expunge: true}, nil
		}
		folder := folderOrDefault(account.FolderOverrides.Trash, defaultTrashFolder)
		if err := g.store.SetFolder(ctx, msg.ID, folder, true, false); err != nil {
			return nil, err
		}
		return &remoteOp{moveToFolder: folder}, nil

	case models.ActionSnooze:
		if action.SnoozeUntil == nil {
			return nil, fmt.Errorf("snooze requires a wake time")
		}
		if err := g.store.SetSnooze(ctx, msg.ID, action.SnoozeUntil); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown action type %q", action.Type)
	}
}

// adjustUnread updates the conversation unread counter for a read-state flip.
// Failures are logged, not propagated: the counter is a denormalization and
// must never block the action itself.
func (g *Gateway) adjustUnread(ctx context.Context, msg *models.Message, delta int) {
	if msg.ConversationID == nil || msg.Direction != models.DirectionReceived {
		return
	}
	if err := g.store.AdjustUnread(ctx, msg.AccountID, *msg.ConversationID, delta); err != nil {
		log.Printf("actions: failed to adjust unread count for conversation %s: %v", *msg.ConversationID, err)
	}
}

// mirror replays one applied mutation onto the remote mailbox. The message's
// stored folder and UID locate it on the server.
func (g *Gateway) mirror(ctx context.Context, remote *lazyRemote, msg *models.Message, op *remoteOp) error {
	session, err := remote.get(ctx)
	if err != nil {
		return err
	}
	if msg.IMAPUID <= 0 {
		return fmt.Errorf("message has no server UID")
	}
	// The stored folder reflects the pre-action location for moves.
	if _, _, err := session.SelectFolder(msg.Folder); err != nil {
		return err
	}

	uids := []uint32{uint32(msg.IMAPUID)}
	switch {
	case op.expunge:
		return session.Delete(uids)
	case op.moveToFolder != "":
		return session.MoveTo(uids, op.moveToFolder)
	case len(op.addFlags) > 0:
		return session.AddFlags(uids, op.addFlags...)
	case len(op.removeFlags) > 0:
		return session.RemoveFlags(uids, op.removeFlags...)
	}
	return nil
}

// saveDraft appends a draft to the account's drafts folder. The stored copy
// is picked up by the next sync pass like any other message.
func (g *Gateway) saveDraft(ctx context.Context, account *models.Account, action models.Action) ([]models.ActionResult, error) {
	if len(action.DraftRaw) == 0 {
		return nil, fmt.Errorf("save_draft requires the raw message")
	}

	session, err := g.connector.Connect(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for draft save: %w", err)
	}
	defer session.Logout()

	folder := folderOrDefault(account.FolderOverrides.Drafts, defaultDraftsFolder)
	if err := session.Append(folder, action.DraftRaw, goimap.DraftFlag, goimap.SeenFlag); err != nil {
		return nil, fmt.Errorf("failed to store draft: %w", err)
	}

	return []models.ActionResult{{Applied: true, RemoteSynced: true}}, nil
}

func folderOrDefault(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// lazyRemote defers the IMAP connection until the first action actually needs
// it, so a batch of local-only actions never dials out.
type lazyRemote struct {
	gateway *Gateway
	account *models.Account
	session Remote
	err     error
	tried   bool
}

func (g *Gateway) lazyRemote(ctx context.Context, account *models.Account) *lazyRemote {
	return &lazyRemote{gateway: g, account: account}
}

func (r *lazyRemote) get(ctx context.Context) (Remote, error) {
	if !r.tried {
		r.tried = true
		r.session, r.err = r.gateway.connector.Connect(ctx, r.account)
		if r.err != nil {
			r.err = fmt.Errorf("failed to connect: %w", r.err)
		}
	}
	return r.session, r.err
}

func (r *lazyRemote) logout() {
	if r.session != nil {
		_ = r.session.Logout()
	}
}
