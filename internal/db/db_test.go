package db_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumicrm/mailsync/internal/db"
	"github.com/lumicrm/mailsync/internal/models"
)

// createTestAccount inserts a minimal verified account for FK-dependent tests.
func createTestAccount(t *testing.T, pool *pgxpool.Pool, email string) *models.Account {
	t.Helper()

	account := &models.Account{
		Email:             email,
		IMAPHost:          "imap.example.com",
		IMAPPort:          993,
		AuthMethod:        models.AuthPassword,
		Username:          email,
		EncryptedPassword: []byte("encrypted"),
		Enabled:           true,
		Verified:          true,
	}
	if err := db.CreateAccount(context.Background(), pool, account); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return account
}

// createTestMessage inserts one received message and returns it with its row id.
func createTestMessage(t *testing.T, pool *pgxpool.Pool, accountID, messageID string) *models.Message {
	t.Helper()

	msg := &models.Message{
		AccountID:   accountID,
		MessageID:   messageID,
		FromAddress: "sender@ext.com",
		ToAddresses: []string{"pat@example.com"},
		Subject:     fmt.Sprintf("Subject for %s", messageID),
		Direction:   models.DirectionReceived,
		Folder:      "INBOX",
		IMAPUID:     1,
		BodyText:    "body",
	}
	created, err := db.UpsertMessage(context.Background(), pool, msg)
	if err != nil {
		t.Fatalf("UpsertMessage failed: %v", err)
	}
	if !created {
		t.Fatalf("expected message %s to be newly created", messageID)
	}
	return msg
}
