package imap

import (
	"strings"

	"github.com/emersion/go-imap"
	"github.com/lumicrm/mailsync/internal/models"
)

// Role classifies a folder by function, independent of its provider-specific name.
type Role string

const (
	RoleInbox   Role = "inbox"
	RoleSent    Role = "sent"
	RoleDrafts  Role = "drafts"
	RoleSpam    Role = "spam"
	RoleTrash   Role = "trash"
	RoleArchive Role = "archive"
	RoleOther   Role = "other"
)

// ClassifyFolder determines a folder's role from its SPECIAL-USE attributes
// (RFC 6154), falling back to name heuristics for servers that don't advertise
// them.
func ClassifyFolder(info *imap.MailboxInfo) Role {
	for _, attr := range info.Attributes {
		switch attr {
		case imap.SentAttr:
			return RoleSent
		case imap.DraftsAttr:
			return RoleDrafts
		case imap.JunkAttr:
			return RoleSpam
		case imap.TrashAttr:
			return RoleTrash
		case imap.ArchiveAttr:
			return RoleArchive
		}
	}

	return classifyByName(info.Name)
}

func classifyByName(name string) Role {
	if strings.EqualFold(name, "INBOX") {
		return RoleInbox
	}

	// Use the last path segment: providers nest special folders under
	// prefixes like "[Gmail]/Sent Mail".
	segment := name
	if idx := strings.LastIndexAny(name, "/."); idx >= 0 && idx < len(name)-1 {
		segment = name[idx+1:]
	}
	lower := strings.ToLower(segment)

	switch {
	case strings.Contains(lower, "sent"):
		return RoleSent
	case strings.Contains(lower, "draft"):
		return RoleDrafts
	case strings.Contains(lower, "spam"), strings.Contains(lower, "junk"):
		return RoleSpam
	case strings.Contains(lower, "trash"), strings.Contains(lower, "deleted"):
		return RoleTrash
	case strings.Contains(lower, "archive"):
		return RoleArchive
	default:
		return RoleOther
	}
}

// ResolveFolders maps roles to concrete folder names for an account. Explicit
// per-account overrides win; otherwise the server's folder list is classified.
// INBOX always resolves.
func ResolveFolders(account *models.Account, listed []*imap.MailboxInfo) map[Role]string {
	resolved := map[Role]string{RoleInbox: "INBOX"}

	for _, info := range listed {
		role := ClassifyFolder(info)
		if role == RoleOther {
			continue
		}
		if _, taken := resolved[role]; !taken {
			resolved[role] = info.Name
		}
	}

	overrides := map[Role]string{
		RoleInbox:   account.FolderOverrides.Inbox,
		RoleSent:    account.FolderOverrides.Sent,
		RoleDrafts:  account.FolderOverrides.Drafts,
		RoleSpam:    account.FolderOverrides.Spam,
		RoleTrash:   account.FolderOverrides.Trash,
		RoleArchive: account.FolderOverrides.Archive,
	}
	for role, name := range overrides {
		if name != "" {
			resolved[role] = name
		}
	}

	return resolved
}
