package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/models"
)

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// UpsertMessage saves or updates a message. Uniqueness is (account_id,
// message_id), so re-fetching the same batch after an interrupted sync updates
// rows in place instead of duplicating them. Envelope fields only fill in when
// previously empty; flags always take the remote's values.
func UpsertMessage(ctx context.Context, q Querier, message *models.Message) (created bool, err error) {
	var inserted bool
	err = q.QueryRow(ctx, `
		INSERT INTO messages (
			account_id,
			message_id,
			conversation_id,
			in_reply_to,
			references_list,
			from_address,
			to_addresses,
			cc_addresses,
			subject,
			sent_at,
			direction,
			folder,
			imap_uid,
			body_text,
			body_html,
			is_read,
			is_starred,
			is_spam,
			is_trash,
			has_parse_errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (account_id, message_id) DO UPDATE SET
			conversation_id = COALESCE(messages.conversation_id, EXCLUDED.conversation_id),
			folder = EXCLUDED.folder,
			imap_uid = EXCLUDED.imap_uid,
			body_text = CASE WHEN messages.body_text = '' THEN EXCLUDED.body_text ELSE messages.body_text END,
			body_html = CASE WHEN messages.body_html = '' THEN EXCLUDED.body_html ELSE messages.body_html END,
			is_read = EXCLUDED.is_read,
			is_starred = EXCLUDED.is_starred,
			is_spam = EXCLUDED.is_spam,
			is_trash = EXCLUDED.is_trash,
			needs_reconcile = FALSE
		RETURNING id, (xmax = 0)
	`,
		message.AccountID,
		message.MessageID,
		message.ConversationID,
		message.InReplyTo,
		message.References,
		message.FromAddress,
		message.ToAddresses,
		message.CCAddresses,
		message.Subject,
		message.SentAt,
		message.Direction,
		message.Folder,
		message.IMAPUID,
		message.BodyText,
		message.BodyHTML,
		message.IsRead,
		message.IsStarred,
		message.IsSpam,
		message.IsTrash,
		message.HasParseErrors,
	).Scan(&message.ID, &inserted)

	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}

	return inserted, nil
}

// IngestMessage stores a message, its conversation counter bump, and its
// attachment rows in one transaction. An interrupted pass re-fetches the same
// UID, so with any of the three writes able to fail independently a retry
// could inflate conversation counters or lose attachment rows for a message
// that already exists; committing them together removes both windows.
func IngestMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message, attachments []models.Attachment) (created bool, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err = UpsertMessage(ctx, tx, message)
	if err != nil {
		return false, err
	}

	if created && message.ConversationID != nil {
		countUnread := !message.IsRead && message.Direction == models.DirectionReceived
		if err := AttachMessageToConversation(ctx, tx, message.AccountID, *message.ConversationID, message.SentAt, countUnread); err != nil {
			return false, err
		}
	}

	if err := DeleteAttachmentsForMessage(ctx, tx, message.ID); err != nil {
		return false, err
	}
	if err := SaveAttachments(ctx, tx, message.ID, attachments); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit ingest transaction: %w", err)
	}
	return created, nil
}

// LinkMessageToConversation links a backfilled message and bumps the
// conversation counters in one transaction, mirroring what IngestMessage does
// for messages whose conversation resolved at ingestion time.
func LinkMessageToConversation(ctx context.Context, pool *pgxpool.Pool, message *models.Message, conversationID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin link transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := SetMessageConversation(ctx, tx, message.ID, conversationID); err != nil {
		return err
	}
	countUnread := !message.IsRead && message.Direction == models.DirectionReceived
	if err := AttachMessageToConversation(ctx, tx, message.AccountID, conversationID, message.SentAt, countUnread); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit link transaction: %w", err)
	}
	return nil
}

const messageColumns = `
	id,
	account_id,
	message_id,
	conversation_id,
	in_reply_to,
	references_list,
	from_address,
	to_addresses,
	cc_addresses,
	subject,
	sent_at,
	direction,
	folder,
	imap_uid,
	body_text,
	body_html,
	is_read,
	is_starred,
	is_spam,
	is_trash,
	needs_reconcile,
	snoozed_until,
	has_parse_errors`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.AccountID,
		&msg.MessageID,
		&msg.ConversationID,
		&msg.InReplyTo,
		&msg.References,
		&msg.FromAddress,
		&msg.ToAddresses,
		&msg.CCAddresses,
		&msg.Subject,
		&msg.SentAt,
		&msg.Direction,
		&msg.Folder,
		&msg.IMAPUID,
		&msg.BodyText,
		&msg.BodyHTML,
		&msg.IsRead,
		&msg.IsStarred,
		&msg.IsSpam,
		&msg.IsTrash,
		&msg.NeedsReconcile,
		&msg.SnoozedUntil,
		&msg.HasParseErrors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &msg, nil
}

// GetMessageByMessageID looks a message up by its Message-ID header within one account.
func GetMessageByMessageID(ctx context.Context, pool *pgxpool.Pool, accountID, messageID string) (*models.Message, error) {
	row := pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE account_id = $1 AND message_id = $2
	`, accountID, messageID)
	return scanMessage(row)
}

// GetMessage looks a message up by its row id.
func GetMessage(ctx context.Context, pool *pgxpool.Pool, id string) (*models.Message, error) {
	row := pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

// MessageExists reports whether a message with this Message-ID is already
// stored for the account. The sync engine uses this to decide between a
// flags-only fetch and a full fetch.
func MessageExists(ctx context.Context, pool *pgxpool.Pool, accountID, messageID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE account_id = $1 AND message_id = $2)
	`, accountID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}
	return exists, nil
}

// UpdateMessageFlags applies remote-authoritative flag state during a delta
// pass. It also clears needs_reconcile: the remote has just been re-read, so
// any earlier divergence is settled.
func UpdateMessageFlags(ctx context.Context, pool *pgxpool.Pool, accountID, messageID string, isRead, isStarred bool, folder string, imapUID int64) error {
	_, err := pool.Exec(ctx, `
		UPDATE messages SET
			is_read = $3,
			is_starred = $4,
			folder = $5,
			imap_uid = $6,
			needs_reconcile = FALSE
		WHERE account_id = $1 AND message_id = $2
	`, accountID, messageID, isRead, isStarred, folder, imapUID)
	if err != nil {
		return fmt.Errorf("failed to update message flags: %w", err)
	}
	return nil
}

// SetMessageRead flips the read flag locally. Returns the previous value so
// callers can adjust conversation unread counters exactly once.
func SetMessageRead(ctx context.Context, pool *pgxpool.Pool, id string, isRead bool) (wasRead bool, err error) {
	err = pool.QueryRow(ctx, `
		UPDATE messages m SET is_read = $2
		FROM (SELECT id, is_read AS was_read FROM messages WHERE id = $1 FOR UPDATE) old
		WHERE m.id = old.id
		RETURNING old.was_read
	`, id, isRead).Scan(&wasRead)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrMessageNotFound
		}
		return false, fmt.Errorf("failed to set read flag: %w", err)
	}
	return wasRead, nil
}

// SetMessageStarred flips the starred flag locally.
func SetMessageStarred(ctx context.Context, pool *pgxpool.Pool, id string, isStarred bool) error {
	tag, err := pool.Exec(ctx, `UPDATE messages SET is_starred = $2 WHERE id = $1`, id, isStarred)
	if err != nil {
		return fmt.Errorf("failed to set starred flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SetMessageFolder moves a message locally, updating trash/spam markers from
// the destination.
func SetMessageFolder(ctx context.Context, pool *pgxpool.Pool, id, folder string, isTrash, isSpam bool) error {
	tag, err := pool.Exec(ctx, `
		UPDATE messages SET folder = $2, is_trash = $3, is_spam = $4 WHERE id = $1
	`, id, folder, isTrash, isSpam)
	if err != nil {
		return fmt.Errorf("failed to set message folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SetMessageSnooze records snooze state. Snooze is store-only; the remote
// mailbox has no equivalent, so the CRM read path filters on snoozed_until.
func SetMessageSnooze(ctx context.Context, pool *pgxpool.Pool, id string, until *time.Time) error {
	tag, err := pool.Exec(ctx, `UPDATE messages SET snoozed_until = $2 WHERE id = $1`, id, until)
	if err != nil {
		return fmt.Errorf("failed to set snooze: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkNeedsReconcile flags a message whose remote write-back failed. The next
// delta pass re-reads authoritative flags and clears the marker.
func MarkNeedsReconcile(ctx context.Context, pool *pgxpool.Pool, id string) error {
	_, err := pool.Exec(ctx, `UPDATE messages SET needs_reconcile = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message for reconciliation: %w", err)
	}
	return nil
}

// DeleteMessage removes a message row (permanent delete). Attachment metadata
// cascades; blob bytes are content-shared and left in place.
func DeleteMessage(ctx context.Context, pool *pgxpool.Pool, id string) error {
	_, err := pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// SetMessageConversation links a message to a conversation.
func SetMessageConversation(ctx context.Context, q Querier, id, conversationID string) error {
	_, err := q.Exec(ctx, `UPDATE messages SET conversation_id = $2 WHERE id = $1`, id, conversationID)
	if err != nil {
		return fmt.Errorf("failed to set conversation id: %w", err)
	}
	return nil
}

// ListUnlinkedMessages returns messages with threading headers but no
// conversation link, for the backfill reconciliation pass.
func ListUnlinkedMessages(ctx context.Context, pool *pgxpool.Pool, accountID string, limit int) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE account_id = $1
		  AND conversation_id IS NULL
		  AND (in_reply_to <> '' OR cardinality(references_list) > 0)
		ORDER BY sent_at NULLS LAST
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
