package thread

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
)

// ConversationStore is the persistence surface the threader resolves against.
// This allows the threader to be tested with mock implementations. Both
// operations are idempotent; conversation counters are not touched here, they
// move with the message row inside the ingest transaction.
type ConversationStore interface {
	Exists(ctx context.Context, accountID, id string) (bool, error)
	Create(ctx context.Context, conv *models.Conversation) error
}

// MessageLinker updates message rows with their resolved conversation id.
// Link writes the link and the conversation counter bump atomically.
type MessageLinker interface {
	ListUnlinked(ctx context.Context, accountID string, limit int) ([]*models.Message, error)
	Link(ctx context.Context, msg *models.Message, conversationID string) error
}

type dbConversationStore struct {
	pool *pgxpool.Pool
}

func (s *dbConversationStore) Exists(ctx context.Context, accountID, id string) (bool, error) {
	return db.ConversationExists(ctx, s.pool, accountID, id)
}

func (s *dbConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	return db.CreateConversation(ctx, s.pool, conv)
}

type dbMessageLinker struct {
	pool *pgxpool.Pool
}

func (l *dbMessageLinker) ListUnlinked(ctx context.Context, accountID string, limit int) ([]*models.Message, error) {
	return db.ListUnlinkedMessages(ctx, l.pool, accountID, limit)
}

func (l *dbMessageLinker) Link(ctx context.Context, msg *models.Message, conversationID string) error {
	return db.LinkMessageToConversation(ctx, l.pool, msg, conversationID)
}

// Threader maps messages to conversations using Outlook semantics: a fresh
// outbound message roots a new conversation under its own Message-ID; replies
// resolve through In-Reply-To, then the References chain newest to oldest.
type Threader struct {
	conversations ConversationStore
	linker        MessageLinker
}

// NewThreader creates a Threader backed by the database.
func NewThreader(pool *pgxpool.Pool) *Threader {
	return &Threader{
		conversations: &dbConversationStore{pool: pool},
		linker:        &dbMessageLinker{pool: pool},
	}
}

// NewThreaderWithStores creates a Threader with custom stores.
func NewThreaderWithStores(conversations ConversationStore, linker MessageLinker) *Threader {
	return &Threader{conversations: conversations, linker: linker}
}

// Thread resolves or creates the conversation for a message at ingestion time
// and sets msg.ConversationID. Everything it writes is idempotent, so a
// retried ingest can call it again freely; the counter bump happens with the
// message insert itself. A received message with no match stays unlinked;
// only outbound messages define new threads.
func (t *Threader) Thread(ctx context.Context, msg *models.Message) error {
	hasHeaders := msg.InReplyTo != "" || len(msg.References) > 0

	if msg.Direction == models.DirectionSent && !hasHeaders {
		return t.createRoot(ctx, msg)
	}

	if hasHeaders {
		conversationID, err := t.resolve(ctx, msg)
		if err != nil {
			return err
		}
		if conversationID == "" {
			return nil
		}
		msg.ConversationID = &conversationID
		return nil
	}

	return nil
}

// createRoot starts a new conversation whose id is the message's own
// Message-ID. The primary recipients define conversation identity.
func (t *Threader) createRoot(ctx context.Context, msg *models.Message) error {
	if msg.MessageID == "" {
		log.Printf("thread: outbound message without Message-ID in account %s, cannot root a conversation", msg.AccountID)
		return nil
	}

	participants := make([]string, 0, 1+len(msg.ToAddresses)+len(msg.CCAddresses))
	if msg.FromAddress != "" {
		participants = append(participants, msg.FromAddress)
	}
	participants = append(participants, msg.ToAddresses...)
	participants = append(participants, msg.CCAddresses...)

	conv := &models.Conversation{
		ID:             msg.MessageID,
		AccountID:      msg.AccountID,
		Subject:        msg.Subject,
		Participants:   participants,
		ToRecipients:   msg.ToAddresses,
		InitiatorEmail: msg.FromAddress,
		LastMessageAt:  msg.SentAt,
	}

	if err := t.conversations.Create(ctx, conv); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	msg.ConversationID = &conv.ID
	return nil
}

// resolve finds an existing conversation: direct In-Reply-To match first, then
// the References list walked newest to oldest. The first hit wins, which also
// settles the tie when several references point at live conversations.
func (t *Threader) resolve(ctx context.Context, msg *models.Message) (string, error) {
	if msg.InReplyTo != "" {
		exists, err := t.conversations.Exists(ctx, msg.AccountID, msg.InReplyTo)
		if err != nil {
			return "", fmt.Errorf("failed to look up conversation: %w", err)
		}
		if exists {
			return msg.InReplyTo, nil
		}
	}

	for i := len(msg.References) - 1; i >= 0; i-- {
		ref := msg.References[i]
		if ref == "" || ref == msg.InReplyTo {
			continue
		}
		exists, err := t.conversations.Exists(ctx, msg.AccountID, ref)
		if err != nil {
			return "", fmt.Errorf("failed to walk references: %w", err)
		}
		if exists {
			return ref, nil
		}
	}

	return "", nil
}

// reconcileBatchSize bounds one backfill pass.
const reconcileBatchSize = 200

// Reconcile re-attempts conversation resolution for stored messages that have
// threading headers but no link. This is the explicit backfill pass: a reply
// can arrive before its root when folders sync out of order, and this repairs
// the link without hiding it inside read paths.
func (t *Threader) Reconcile(ctx context.Context, accountID string) (linked int, err error) {
	messages, err := t.linker.ListUnlinked(ctx, accountID, reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unlinked messages: %w", err)
	}

	for _, msg := range messages {
		conversationID, err := t.resolve(ctx, msg)
		if err != nil {
			return linked, err
		}
		if conversationID == "" {
			continue
		}

		if err := t.linker.Link(ctx, msg, conversationID); err != nil {
			return linked, fmt.Errorf("failed to link message %s: %w", msg.ID, err)
		}
		linked++
	}

	return linked, nil
}
