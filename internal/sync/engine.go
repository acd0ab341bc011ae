package sync

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	goimap "github.com/emersion/go-imap"
	"github.com/lumicrm/mailsync/internal/blob"
	"github.com/lumicrm/mailsync/internal/imap"
	"github.com/lumicrm/mailsync/internal/mime"
	"github.com/lumicrm/mailsync/internal/models"
	"github.com/lumicrm/mailsync/internal/notify"
)

// syncOrder is the folder pass order within one account. Sent comes right
// after inbox so conversation roots usually exist before their replies are
// threaded; whatever still misses is repaired by the reconcile pass.
var syncOrder = []imap.Role{
	imap.RoleInbox,
	imap.RoleSent,
	imap.RoleSpam,
	imap.RoleTrash,
	imap.RoleDrafts,
}

// Engine runs the delta sync for one account: open a session, walk the
// role-mapped folders, ingest everything past each folder's checkpoint,
// and advance the checkpoint only after the batch is durably stored.
type Engine struct {
	connector   Connector
	store       Store
	threader    Threader
	blobs       BlobStore
	notifier    notify.Notifier
	maxBackfill int
}

func NewEngine(connector Connector, store Store, threader Threader, blobs BlobStore, notifier notify.Notifier, maxBackfill int) *Engine {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Engine{
		connector:   connector,
		store:       store,
		threader:    threader,
		blobs:       blobs,
		notifier:    notifier,
		maxBackfill: maxBackfill,
	}
}

// SyncAccount performs one full delta pass over an account. Folder failures
// are collected rather than aborting the pass, so a broken spam folder does
// not block the inbox.
func (e *Engine) SyncAccount(ctx context.Context, account *models.Account) (models.SyncResult, error) {
	var result models.SyncResult

	session, err := e.connector.Connect(ctx, account)
	if err != nil {
		return result, fmt.Errorf("failed to connect account %s: %w", account.Email, err)
	}
	defer session.Logout()

	listed, err := session.ListFolders()
	if err != nil {
		return result, fmt.Errorf("failed to list folders for %s: %w", account.Email, err)
	}
	folders := imap.ResolveFolders(account, listed)

	for _, role := range syncOrder {
		name, ok := folders[role]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		folderResult, err := e.SyncFolder(ctx, account, session, role, name)
		result.Merge(folderResult)
		if err != nil {
			log.Printf("sync: folder %s of %s failed: %v", name, account.Email, err)
			result.Errors = append(result.Errors, fmt.Sprintf("folder %s: %v", name, err))
		}
	}

	if linked, err := e.threader.Reconcile(ctx, account.ID); err != nil {
		log.Printf("sync: thread reconcile for %s failed: %v", account.Email, err)
		result.Errors = append(result.Errors, fmt.Sprintf("reconcile: %v", err))
	} else if linked > 0 {
		log.Printf("sync: linked %d deferred messages for %s", linked, account.Email)
	}

	return result, nil
}

// SyncFolder ingests everything newer than the stored checkpoint for one
// folder. The checkpoint is written last: a crash mid-batch re-fetches the
// same UIDs and the message upsert absorbs the duplicates.
func (e *Engine) SyncFolder(ctx context.Context, account *models.Account, session Session, role imap.Role, name string) (models.SyncResult, error) {
	var result models.SyncResult

	cp, err := e.store.GetCheckpoint(ctx, account.ID, name)
	if err != nil {
		return result, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	uidValidity, _, err := session.SelectFolder(name)
	if err != nil {
		return result, fmt.Errorf("failed to select folder: %w", err)
	}

	lastUID := cp.LastUID
	if cp.UIDValidity != 0 && cp.UIDValidity != uidValidity {
		// The server renumbered the mailbox; stored UIDs no longer mean
		// anything there. Stored messages survive, the cursor does not.
		log.Printf("sync: UIDVALIDITY changed for %s/%s (%d -> %d), resyncing", account.Email, name, cp.UIDValidity, uidValidity)
		if err := e.store.ResetCheckpoint(ctx, account.ID, name, uidValidity); err != nil {
			return result, fmt.Errorf("failed to reset checkpoint: %w", err)
		}
		lastUID = 0
	}

	uids, err := session.SearchSinceUID(lastUID)
	if err != nil {
		return result, fmt.Errorf("failed to search for new messages: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	if lastUID == 0 && e.maxBackfill > 0 && len(uids) > e.maxBackfill {
		// First pass over a large mailbox: take only the newest window so
		// the account becomes usable quickly. History stays on the server.
		log.Printf("sync: capping initial backfill for %s/%s to %d of %d messages", account.Email, name, e.maxBackfill, len(uids))
		uids = uids[len(uids)-e.maxBackfill:]
	}

	maxSeen := lastUID
	advance := true

	if len(uids) > 0 {
		headers, err := session.FetchHeaders(uids)
		if err != nil {
			return result, fmt.Errorf("failed to fetch headers: %w", err)
		}
		sort.Slice(headers, func(i, j int) bool { return headers[i].Uid < headers[j].Uid })
		result.Fetched = len(headers)

		for _, header := range headers {
			if err := ctx.Err(); err != nil {
				break
			}

			created, err := e.ingestMessage(ctx, account, session, role, name, uidValidity, header)
			if err != nil {
				// Keep going so one broken message cannot wedge the folder,
				// but stop moving the cursor: the failed UID must be seen
				// again on the next pass.
				log.Printf("sync: message uid %d in %s/%s failed: %v", header.Uid, account.Email, name, err)
				result.Errors = append(result.Errors, fmt.Sprintf("uid %d: %v", header.Uid, err))
				advance = false
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
			if advance && header.Uid > maxSeen {
				maxSeen = header.Uid
			}
		}
	}

	if err := e.store.SaveCheckpoint(ctx, &models.Checkpoint{
		AccountID:   account.ID,
		Folder:      name,
		LastUID:     maxSeen,
		UIDValidity: uidValidity,
		HistoryID:   cp.HistoryID,
	}); err != nil {
		return result, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return result, nil
}

// ingestMessage stores one message, fetching the full body only when the
// message is not already known. For known messages the mutable state (flags,
// folder, UID) is refreshed from the header alone.
func (e *Engine) ingestMessage(ctx context.Context, account *models.Account, session Session, role imap.Role, folder string, uidValidity uint32, header *goimap.Message) (created bool, err error) {
	messageID := headerMessageID(header)
	if messageID == "" {
		messageID = syntheticMessageID(folder, uidValidity, header.Uid)
	}
	isRead, isStarred := flagState(header.Flags)

	known, err := e.store.MessageExists(ctx, account.ID, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", messageID, err)
	}
	if known {
		if err := e.store.UpdateMessageFlags(ctx, account.ID, messageID, isRead, isStarred, folder, int64(header.Uid)); err != nil {
			return false, fmt.Errorf("failed to update flags for %s: %w", messageID, err)
		}
		return false, nil
	}

	raw, err := session.FetchRaw(header.Uid)
	if err != nil {
		return false, fmt.Errorf("failed to fetch uid %d: %w", header.Uid, err)
	}

	parsed, err := mime.Parse(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse uid %d: %w", header.Uid, err)
	}

	direction := models.DirectionReceived
	if role == imap.RoleSent || role == imap.RoleDrafts {
		direction = models.DirectionSent
	}

	sentAt := parsed.Date
	if sentAt == nil && header.Envelope != nil && !header.Envelope.Date.IsZero() {
		date := header.Envelope.Date
		sentAt = &date
	}

	msg := &models.Message{
		AccountID:      account.ID,
		MessageID:      messageID,
		InReplyTo:      parsed.InReplyTo,
		References:     parsed.References,
		FromAddress:    parsed.FromAddress,
		ToAddresses:    parsed.ToAddresses,
		CCAddresses:    parsed.CCAddresses,
		Subject:        parsed.Subject,
		SentAt:         sentAt,
		Direction:      direction,
		Folder:         folder,
		IMAPUID:        int64(header.Uid),
		BodyText:       parsed.BodyText,
		BodyHTML:       parsed.BodyHTML,
		IsRead:         isRead,
		IsStarred:      isStarred,
		IsSpam:         role == imap.RoleSpam,
		IsTrash:        role == imap.RoleTrash,
		HasParseErrors: parsed.HadErrors,
	}

	// Threading resolves the conversation before the insert; what it writes
	// is idempotent. The message row, its counter bump, and the attachment
	// rows then commit in one transaction, so a retried UID after a failure
	// can neither inflate counters nor leave a message without its
	// attachment rows.
	if err := e.threader.Thread(ctx, msg); err != nil {
		return false, fmt.Errorf("failed to thread %s: %w", messageID, err)
	}

	rows, err := e.attachmentRows(parsed.Attachments)
	if err != nil {
		return false, fmt.Errorf("failed to store attachment blobs for %s: %w", messageID, err)
	}

	inserted, err := e.store.IngestMessage(ctx, msg, rows)
	if err != nil {
		return false, fmt.Errorf("failed to store %s: %w", messageID, err)
	}

	if inserted && direction == models.DirectionReceived && role == imap.RoleInbox {
		e.notifier.NewMessage(notify.Event{
			AccountID:      account.ID,
			ConversationID: conversationIDOrEmpty(msg),
			FromEmail:      msg.FromAddress,
			Subject:        msg.Subject,
		})
	}

	return inserted, nil
}

// attachmentRows writes attachment bytes into the content-addressed store and
// returns the metadata rows to persist alongside the message. Blob writes are
// keyed by content hash, so a retried ingest rewrites nothing.
func (e *Engine) attachmentRows(attachments []mime.ParsedAttachment) ([]models.Attachment, error) {
	if len(attachments) == 0 {
		return nil, nil
	}

	rows := make([]models.Attachment, 0, len(attachments))
	for i := range attachments {
		att := &attachments[i]
		key, err := e.blobs.Put(att.Hash, att.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to store blob %s: %w", att.Hash, err)
		}
		rows = append(rows, att.ToModel(key))
	}
	return rows, nil
}

func headerMessageID(header *goimap.Message) string {
	if header.Envelope == nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(header.Envelope.MessageId), "<>")
}

// syntheticMessageID gives headerless messages a stable identity so repeated
// passes do not duplicate them. It is only unique within one UIDVALIDITY
// generation, which is exactly the lifetime of the UID itself.
func syntheticMessageID(folder string, uidValidity, uid uint32) string {
	return fmt.Sprintf("missing-id-%d-%d@%s.invalid", uidValidity, uid, strings.ToLower(folder))
}

func flagState(flags []string) (isRead, isStarred bool) {
	for _, flag := range flags {
		switch flag {
		case goimap.SeenFlag:
			isRead = true
		case goimap.FlaggedFlag:
			isStarred = true
		}
	}
	return isRead, isStarred
}

func conversationIDOrEmpty(msg *models.Message) string {
	if msg.ConversationID == nil {
		return ""
	}
	return *msg.ConversationID
}

var _ BlobStore = (*blob.Store)(nil)
