package models

import "time"

// AuthMethod distinguishes how an account authenticates against its mail server.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthOAuth2   AuthMethod = "oauth2"
)

// Direction records whether a message was sent from or received by the account.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Account is one synchronized mailbox. Credentials are stored encrypted; the
// vault decrypts them on use. A disabled account is skipped by the orchestrator
// until it is re-verified.
type Account struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	IMAPHost              string     `json:"imap_host"`
	IMAPPort              int        `json:"imap_port"`
	AuthMethod            AuthMethod `json:"auth_method"`
	Username              string     `json:"username"`
	EncryptedPassword     []byte     `json:"-"`
	EncryptedRefreshToken []byte     `json:"-"`
	AccessToken           string     `json:"-"`
	TokenExpiry           *time.Time `json:"-"`
	SupportsHistoryID     bool       `json:"supports_history_id"`
	Enabled               bool       `json:"enabled"`
	Verified              bool       `json:"verified"`
	StatusMessage         string     `json:"status_message"`
	LastSyncAt            *time.Time `json:"last_sync_at"`
	LastSyncError         string     `json:"last_sync_error"`
	FolderOverrides       FolderMap  `json:"folder_overrides"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// FolderMap overrides the default role-to-folder-name mapping for providers
// with nonstandard folder names.
type FolderMap struct {
	Inbox   string `json:"inbox,omitempty"`
	Sent    string `json:"sent,omitempty"`
	Drafts  string `json:"drafts,omitempty"`
	Spam    string `json:"spam,omitempty"`
	Trash   string `json:"trash,omitempty"`
	Archive string `json:"archive,omitempty"`
}

// Checkpoint is the durable sync cursor for one account/folder pair. It only
// moves forward; a UID validity bump or an expired history id resets it to zero
// and forces a bounded full resync.
type Checkpoint struct {
	AccountID   string    `json:"account_id"`
	Folder      string    `json:"folder"`
	LastUID     uint32    `json:"last_uid"`
	UIDValidity uint32    `json:"uid_validity"`
	HistoryID   string    `json:"history_id"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one synchronized email. Envelope fields are immutable after
// ingestion; flags and folder placement are mutable and reconciled against the
// remote mailbox on every delta pass. (account_id, message_id) is unique.
type Message struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	MessageID       string     `json:"message_id"`
	ConversationID  *string    `json:"conversation_id"`
	InReplyTo       string     `json:"in_reply_to"`
	References      []string   `json:"references"`
	FromAddress     string     `json:"from_address"`
	ToAddresses     []string   `json:"to_addresses"`
	CCAddresses     []string   `json:"cc_addresses"`
	Subject         string     `json:"subject"`
	SentAt          *time.Time `json:"sent_at"`
	Direction       Direction  `json:"direction"`
	Folder          string     `json:"folder"`
	IMAPUID         int64      `json:"imap_uid"`
	BodyText        string     `json:"body_text"`
	BodyHTML        string     `json:"body_html"`
	IsRead          bool       `json:"is_read"`
	IsStarred       bool       `json:"is_starred"`
	IsSpam          bool       `json:"is_spam"`
	IsTrash         bool       `json:"is_trash"`
	NeedsReconcile  bool       `json:"needs_reconcile"`
	SnoozedUntil    *time.Time `json:"snoozed_until"`
	HasParseErrors  bool       `json:"has_parse_errors"`
	Attachments     []Attachment `json:"attachments,omitempty"`
}

// Conversation groups messages into an Outlook-style thread. Its id is the
// Message-ID of the root outbound message. Counters are maintained atomically
// as messages attach.
type Conversation struct {
	ID             string     `json:"id"`
	AccountID      string     `json:"account_id"`
	Subject        string     `json:"subject"`
	Participants   []string   `json:"participants"`
	ToRecipients   []string   `json:"to_recipients"`
	InitiatorEmail string     `json:"initiator_email"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	MessageCount   int        `json:"message_count"`
	UnreadCount    int        `json:"unread_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Attachment metadata is per message; the bytes live in the content-addressed
// blob store, so identical content across messages shares one storage object.
type Attachment struct {
	ID         string `json:"id"`
	MessageID  string `json:"message_id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	Hash       string `json:"hash"`
	StorageKey string `json:"storage_key"`
	IsInline   bool   `json:"is_inline"`
	ContentID  string `json:"content_id,omitempty"`
	ParseError string `json:"parse_error,omitempty"`
}
