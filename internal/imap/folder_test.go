package imap

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/lumicrm/mailsync/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassifyFolder(t *testing.T) {
	t.Run("uses SPECIAL-USE attributes first", func(t *testing.T) {
		info := &imap.MailboxInfo{Name: "Weird Name", Attributes: []string{imap.SentAttr}}
		assert.Equal(t, RoleSent, ClassifyFolder(info))
	})

	t.Run("falls back to name heuristics", func(t *testing.T) {
		cases := map[string]Role{
			"INBOX":             RoleInbox,
			"inbox":             RoleInbox,
			"Sent":              RoleSent,
			"[Gmail]/Sent Mail": RoleSent,
			"Drafts":            RoleDrafts,
			"Junk":              RoleSpam,
			"Spam":              RoleSpam,
			"Trash":             RoleTrash,
			"Deleted Items":     RoleTrash,
			"Archive":           RoleArchive,
			"Projects/Acme":     RoleOther,
		}
		for name, expected := range cases {
			info := &imap.MailboxInfo{Name: name}
			assert.Equal(t, expected, ClassifyFolder(info), "folder %q", name)
		}
	})
}

func TestResolveFolders(t *testing.T) {
	listed := []*imap.MailboxInfo{
		{Name: "INBOX"},
		{Name: "[Gmail]/Sent Mail", Attributes: []string{imap.SentAttr}},
		{Name: "[Gmail]/Spam", Attributes: []string{imap.JunkAttr}},
		{Name: "[Gmail]/Trash", Attributes: []string{imap.TrashAttr}},
	}

	t.Run("classifies from the server list", func(t *testing.T) {
		account := &models.Account{}
		resolved := ResolveFolders(account, listed)
		assert.Equal(t, "INBOX", resolved[RoleInbox])
		assert.Equal(t, "[Gmail]/Sent Mail", resolved[RoleSent])
		assert.Equal(t, "[Gmail]/Spam", resolved[RoleSpam])
		assert.Equal(t, "[Gmail]/Trash", resolved[RoleTrash])
	})

	t.Run("account overrides win", func(t *testing.T) {
		account := &models.Account{
			FolderOverrides: models.FolderMap{Sent: "Custom Sent", Trash: "Papierkorb"},
		}
		resolved := ResolveFolders(account, listed)
		assert.Equal(t, "Custom Sent", resolved[RoleSent])
		assert.Equal(t, "Papierkorb", resolved[RoleTrash])
	})
}

func TestXOAuth2InitialResponse(t *testing.T) {
	client := NewXOAuth2Client("alice@crm.example", "ya29.token")
	mech, ir, err := client.Start()
	assert.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=alice@crm.example\x01auth=Bearer ya29.token\x01\x01", string(ir))

	reply, err := client.Next([]byte(`{"status":"400"}`))
	assert.NoError(t, err)
	assert.Empty(t, reply)
}
