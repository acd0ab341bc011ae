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

// ErrConversationNotFound is returned when a requested conversation cannot be found.
var ErrConversationNotFound = errors.New("conversation not found")

// CreateConversation inserts a new conversation rooted at an outbound
// message. The id is the root message's Message-ID. Safe to call twice for the
// same root (interrupted sync re-run): the insert is a no-op on conflict.
func CreateConversation(ctx context.Context, pool *pgxpool.Pool, conv *models.Conversation) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO conversations (
			id,
			account_id,
			subject,
			participants,
			to_recipients,
			initiator_email,
			last_message_at,
			message_count,
			unread_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0)
		ON CONFLICT (account_id, id) DO NOTHING
	`,
		conv.ID,
		conv.AccountID,
		conv.Subject,
		conv.Participants,
		conv.ToRecipients,
		conv.InitiatorEmail,
		conv.LastMessageAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation with the given id within one account.
func GetConversation(ctx context.Context, pool *pgxpool.Pool, accountID, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := pool.QueryRow(ctx, `
		SELECT
			id,
			account_id,
			subject,
			participants,
			to_recipients,
			initiator_email,
			last_message_at,
			message_count,
			unread_count,
			created_at
		FROM conversations
		WHERE account_id = $1 AND id = $2
	`, accountID, id).Scan(
		&conv.ID,
		&conv.AccountID,
		&conv.Subject,
		&conv.Participants,
		&conv.ToRecipients,
		&conv.InitiatorEmail,
		&conv.LastMessageAt,
		&conv.MessageCount,
		&conv.UnreadCount,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ConversationExists reports whether a conversation id is live for an account.
// The threader walks References newest-to-oldest calling this.
func ConversationExists(ctx context.Context, pool *pgxpool.Pool, accountID, id string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM conversations WHERE account_id = $1 AND id = $2)
	`, accountID, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check conversation existence: %w", err)
	}
	return exists, nil
}

// AttachMessageToConversation bumps counters for a newly attached message in a
// single atomic UPDATE, so concurrent attaches from different messages cannot
// lose increments. countUnread is true only for unread received messages.
func AttachMessageToConversation(ctx context.Context, q Querier, accountID, id string, messageAt *time.Time, countUnread bool) error {
	tag, err := q.Exec(ctx, `
		UPDATE conversations SET
			message_count = message_count + 1,
			unread_count = unread_count + CASE WHEN $4 THEN 1 ELSE 0 END,
			last_message_at = GREATEST(COALESCE(last_message_at, $3), COALESCE($3, last_message_at))
		WHERE account_id = $1 AND id = $2
	`, accountID, id, messageAt, countUnread)
	if err != nil {
		return fmt.Errorf("failed to attach message to conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AdjustConversationUnread moves the unread counter by delta, clamped at zero.
// Called when a received message's read flag flips locally or during flag
// reconciliation.
func AdjustConversationUnread(ctx context.Context, pool *pgxpool.Pool, accountID, id string, delta int) error {
	_, err := pool.Exec(ctx, `
		UPDATE conversations SET unread_count = GREATEST(unread_count + $3, 0)
		WHERE account_id = $1 AND id = $2
	`, accountID, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust unread count: %w", err)
	}
	return nil
}

// DetachMessageFromConversation decrements counters when a message is
// permanently deleted.
func DetachMessageFromConversation(ctx context.Context, pool *pgxpool.Pool, accountID, id string, wasUnreadReceived bool) error {
	_, err := pool.Exec(ctx, `
		UPDATE conversations SET
			message_count = GREATEST(message_count - 1, 0),
			unread_count = GREATEST(unread_count - CASE WHEN $3 THEN 1 ELSE 0 END, 0)
		WHERE account_id = $1 AND id = $2
	`, accountID, id, wasUnreadReceived)
	if err != nil {
		return fmt.Errorf("failed to detach message from conversation: %w", err)
	}
	return nil
}
