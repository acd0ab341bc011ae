package models

import "time"

// ActionType enumerates the mutations the CRM layer can apply to messages.
type ActionType string

const (
	ActionMarkRead     ActionType = "mark_read"
	ActionMarkUnread   ActionType = "mark_unread"
	ActionStar         ActionType = "star"
	ActionUnstar       ActionType = "unstar"
	ActionArchive      ActionType = "archive"
	ActionMoveToFolder ActionType = "move_to_folder"
	ActionDelete       ActionType = "delete"
	ActionSaveDraft    ActionType = "save_draft"
	ActionSnooze       ActionType = "snooze"
)

// Action is one mutation request against a set of messages in one account.
type Action struct {
	Type         ActionType `json:"type"`
	TargetFolder string     `json:"target_folder,omitempty"`
	Permanent    bool       `json:"permanent,omitempty"`
	SnoozeUntil  *time.Time `json:"snooze_until,omitempty"`
	DraftRaw     []byte     `json:"draft_raw,omitempty"`
}

// ActionResult reports the outcome for a single message id. A failed remote
// write leaves Applied true: the local store is updated first and the
// divergence is flagged for reconciliation on the next sync pass.
type ActionResult struct {
	MessageID     string `json:"message_id"`
	Applied       bool   `json:"applied"`
	RemoteSynced  bool   `json:"remote_synced"`
	Error         string `json:"error,omitempty"`
}

// SweepResult summarizes one orchestrator pass over all enabled accounts.
type SweepResult struct {
	AccountsAttempted int `json:"accounts_attempted"`
	AccountsSucceeded int `json:"accounts_succeeded"`
	AccountsFailed    int `json:"accounts_failed"`
	AccountsSkipped   int `json:"accounts_skipped"`
}

// SyncResult summarizes one delta pass over one folder.
type SyncResult struct {
	Fetched int      `json:"fetched"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

// Merge folds another folder's result into this one for per-account totals.
func (r *SyncResult) Merge(other SyncResult) {
	r.Fetched += other.Fetched
	r.Created += other.Created
	r.Updated += other.Updated
	r.Errors = append(r.Errors, other.Errors...)
}
