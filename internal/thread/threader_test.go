package thread

import (
	"context"
	"testing"
	"time"

	"github.com/lumicrm/mailsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConversationStore struct {
	conversations map[string]*models.Conversation
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{conversations: make(map[string]*models.Conversation)}
}

func (s *fakeConversationStore) Exists(_ context.Context, accountID, id string) (bool, error) {
	_, ok := s.conversations[accountID+"/"+id]
	return ok, nil
}

func (s *fakeConversationStore) Create(_ context.Context, conv *models.Conversation) error {
	key := conv.AccountID + "/" + conv.ID
	if _, ok := s.conversations[key]; ok {
		return nil
	}
	s.conversations[key] = conv
	return nil
}

type fakeMessageLinker struct {
	unlinked []*models.Message
	links    map[string]string
}

func (l *fakeMessageLinker) ListUnlinked(_ context.Context, _ string, _ int) ([]*models.Message, error) {
	return l.unlinked, nil
}

func (l *fakeMessageLinker) Link(_ context.Context, msg *models.Message, conversationID string) error {
	if l.links == nil {
		l.links = make(map[string]string)
	}
	l.links[msg.ID] = conversationID
	return nil
}

func sentAt(t *testing.T, offset time.Duration) *time.Time {
	t.Helper()
	at := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC).Add(offset)
	return &at
}

func rootMessage(t *testing.T) *models.Message {
	t.Helper()
	return &models.Message{
		ID:          "row-0",
		AccountID:   "acct-1",
		MessageID:   "m0@crm.example",
		FromAddress: "alice@crm.example",
		ToAddresses: []string{"buyer@lead.example"},
		Subject:     "Proposal",
		Direction:   models.DirectionSent,
		IsRead:      true,
		SentAt:      sentAt(t, 0),
	}
}

func TestThreadCreatesRootForFreshOutbound(t *testing.T) {
	store := newFakeConversationStore()
	threader := NewThreaderWithStores(store, &fakeMessageLinker{})

	msg := rootMessage(t)
	require.NoError(t, threader.Thread(context.Background(), msg))

	require.NotNil(t, msg.ConversationID)
	assert.Equal(t, "m0@crm.example", *msg.ConversationID)

	conv := store.conversations["acct-1/m0@crm.example"]
	require.NotNil(t, conv)
	assert.Equal(t, "Proposal", conv.Subject)
	assert.Equal(t, "alice@crm.example", conv.InitiatorEmail)
	assert.Equal(t, []string{"buyer@lead.example"}, conv.ToRecipients)
	// Counters start at zero; they move with the message row when it is
	// ingested, not here.
	assert.Equal(t, 0, conv.MessageCount)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestThreadResolvesReplyByInReplyTo(t *testing.T) {
	store := newFakeConversationStore()
	threader := NewThreaderWithStores(store, &fakeMessageLinker{})
	require.NoError(t, threader.Thread(context.Background(), rootMessage(t)))

	reply := &models.Message{
		ID:          "row-1",
		AccountID:   "acct-1",
		MessageID:   "r1@lead.example",
		InReplyTo:   "m0@crm.example",
		Direction:   models.DirectionReceived,
		IsRead:      false,
		SentAt:      sentAt(t, time.Hour),
	}
	require.NoError(t, threader.Thread(context.Background(), reply))

	require.NotNil(t, reply.ConversationID)
	assert.Equal(t, "m0@crm.example", *reply.ConversationID)
	assert.Len(t, store.conversations, 1)
}

func TestThreadResolvesViaReferencesWalk(t *testing.T) {
	store := newFakeConversationStore()
	threader := NewThreaderWithStores(store, &fakeMessageLinker{})
	require.NoError(t, threader.Thread(context.Background(), rootMessage(t)))

	// R2 references M0 and R1; R1 never became a conversation, so the walk
	// (newest to oldest) lands on M0.
	r2 := &models.Message{
		ID:         "row-2",
		AccountID:  "acct-1",
		MessageID:  "r2@lead.example",
		References: []string{"m0@crm.example", "r1@lead.example"},
		Direction:  models.DirectionReceived,
		SentAt:     sentAt(t, 2*time.Hour),
	}
	require.NoError(t, threader.Thread(context.Background(), r2))

	require.NotNil(t, r2.ConversationID)
	assert.Equal(t, "m0@crm.example", *r2.ConversationID)
}

func TestThreadPrefersMostRecentReference(t *testing.T) {
	store := newFakeConversationStore()
	threader := NewThreaderWithStores(store, &fakeMessageLinker{})

	older := rootMessage(t)
	require.NoError(t, threader.Thread(context.Background(), older))

	newer := rootMessage(t)
	newer.ID = "row-n"
	newer.MessageID = "m1@crm.example"
	require.NoError(t, threader.Thread(context.Background(), newer))

	// Both references match live conversations; the most recently referenced
	// (last in the header) wins.
	reply := &models.Message{
		ID:         "row-3",
		AccountID:  "acct-1",
		References: []string{"m0@crm.example", "m1@crm.example"},
		Direction:  models.DirectionReceived,
	}
	require.NoError(t, threader.Thread(context.Background(), reply))

	require.NotNil(t, reply.ConversationID)
	assert.Equal(t, "m1@crm.example", *reply.ConversationID)
}

func TestThreadLeavesUnmatchedReceivedUnlinked(t *testing.T) {
	store := newFakeConversationStore()
	threader := NewThreaderWithStores(store, &fakeMessageLinker{})

	t.Run("no headers", func(t *testing.T) {
		msg := &models.Message{AccountID: "acct-1", MessageID: "x@y", Direction: models.DirectionReceived}
		require.NoError(t, threader.Thread(context.Background(), msg))
		assert.Nil(t, msg.ConversationID, "received mail never roots a conversation")
		assert.Empty(t, store.conversations)
	})

	t.Run("headers with no match", func(t *testing.T) {
		msg := &models.Message{
			AccountID: "acct-1",
			MessageID: "z@y",
			InReplyTo: "unknown@nowhere",
			Direction: models.DirectionReceived,
		}
		require.NoError(t, threader.Thread(context.Background(), msg))
		assert.Nil(t, msg.ConversationID)
	})
}

func TestThreadSentReplyAttachesToExistingConversation(t *testing.T) {
	store := newFakeConversationStore()
	threader := NewThreaderWithStores(store, &fakeMessageLinker{})
	require.NoError(t, threader.Thread(context.Background(), rootMessage(t)))

	sentReply := &models.Message{
		ID:        "row-4",
		AccountID: "acct-1",
		MessageID: "m2@crm.example",
		InReplyTo: "m0@crm.example",
		Direction: models.DirectionSent,
		IsRead:    true,
	}
	require.NoError(t, threader.Thread(context.Background(), sentReply))

	require.NotNil(t, sentReply.ConversationID)
	assert.Equal(t, "m0@crm.example", *sentReply.ConversationID)
	// A sent reply with headers must not create a second conversation.
	assert.Len(t, store.conversations, 1)
}

func TestReconcileLinksLateArrivals(t *testing.T) {
	store := newFakeConversationStore()
	orphan := &models.Message{
		ID:        "row-5",
		AccountID: "acct-1",
		MessageID: "late@lead.example",
		InReplyTo: "m0@crm.example",
		Direction: models.DirectionReceived,
		SentAt:    sentAt(t, 3*time.Hour),
	}
	linker := &fakeMessageLinker{unlinked: []*models.Message{orphan}}
	threader := NewThreaderWithStores(store, linker)

	// Root arrives after the reply did.
	require.NoError(t, threader.Thread(context.Background(), rootMessage(t)))

	linked, err := threader.Reconcile(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, linked)
	assert.Equal(t, "m0@crm.example", linker.links["row-5"])
}
