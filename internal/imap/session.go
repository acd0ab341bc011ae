package imap

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Session is one authenticated IMAP connection scoped to a sync or mutation
// task. The protocol is request/response over a single connection, so a
// Session is used sequentially by exactly one goroutine; concurrency happens
// across accounts, never within a session.
type Session struct {
	c      *client.Client
	folder string
}

// NewSession wraps an authenticated client.
func NewSession(c *client.Client) *Session {
	return &Session{c: c}
}

// SelectFolder opens a folder and returns its UIDVALIDITY and message count.
// A changed UIDVALIDITY invalidates every UID the checkpoint remembers.
func (s *Session) SelectFolder(name string) (uidValidity uint32, messages uint32, err error) {
	mbox, err := s.c.Select(name, false)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select folder %s: %w", name, err)
	}
	s.folder = name
	return mbox.UidValidity, mbox.Messages, nil
}

// SearchSinceUID returns UIDs strictly greater than lastUID in the selected
// folder. lastUID 0 lists the whole folder.
func (s *Session) SearchSinceUID(lastUID uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(lastUID+1, 0)
	criteria.Uid = seqSet

	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search since UID %d: %w", lastUID, err)
	}
	return uids, nil
}

// FetchHeaders fetches envelope, flags, and UID for the given UIDs.
func (s *Session) FetchHeaders(uids []uint32) ([]*imap.Message, error) {
	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch headers: %w", err)
	}

	return result, nil
}

// FetchRaw fetches the complete raw RFC 5322 bytes for one UID.
func (s *Session) FetchRaw(uid uint32) ([]byte, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	msg := <-messages
	err := <-done
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", uid, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("server did not return message %d", uid)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("server returned no body for message %d", uid)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body %d: %w", uid, err)
	}

	return raw, nil
}

// AddFlags adds IMAP flags to a set of UIDs.
func (s *Session) AddFlags(uids []uint32, flags ...string) error {
	return s.storeFlags(uids, imap.FormatFlagsOp(imap.AddFlags, true), flags)
}

// RemoveFlags removes IMAP flags from a set of UIDs.
func (s *Session) RemoveFlags(uids []uint32, flags ...string) error {
	return s.storeFlags(uids, imap.FormatFlagsOp(imap.RemoveFlags, true), flags)
}

func (s *Session) storeFlags(uids []uint32, item imap.StoreItem, flags []string) error {
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	values := make([]interface{}, len(flags))
	for i, flag := range flags {
		values[i] = flag
	}

	if err := s.c.UidStore(seqSet, item, values, nil); err != nil {
		return fmt.Errorf("failed to store flags: %w", err)
	}
	return nil
}

// MoveTo moves UIDs to another folder: COPY, mark \Deleted, EXPUNGE. MOVE is
// an extension not every server offers; the copy+expunge sequence is universal.
func (s *Session) MoveTo(uids []uint32, folder string) error {
	if len(uids) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	if err := s.c.UidCopy(seqSet, folder); err != nil {
		return fmt.Errorf("failed to copy to %s: %w", folder, err)
	}

	if err := s.AddFlags(uids, imap.DeletedFlag); err != nil {
		return err
	}

	if err := s.c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}

	return nil
}

// Delete permanently removes UIDs from the selected folder.
func (s *Session) Delete(uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}

	if err := s.AddFlags(uids, imap.DeletedFlag); err != nil {
		return err
	}

	if err := s.c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}

	return nil
}

// Append stores a raw message into a folder, used for saving drafts.
func (s *Session) Append(folder string, raw []byte, flags ...string) error {
	if err := s.c.Append(folder, flags, time.Now(), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	return nil
}

// ListFolders lists folder names with their attributes.
func (s *Session) ListFolders() ([]*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var folders []*imap.MailboxInfo
	for m := range mailboxes {
		folders = append(folders, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}

// Logout ends the session cleanly.
func (s *Session) Logout() error {
	if err := s.c.Logout(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}
