package mime

import (
	"bytes"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/lumicrm/mailsync/internal/blob"
	"github.com/lumicrm/mailsync/internal/models"
)

// ParsedMessage is the decoded form of one raw RFC 5322 message.
type ParsedMessage struct {
	MessageID   string
	InReplyTo   string
	References  []string
	FromAddress string
	ToAddresses []string
	CCAddresses []string
	Subject     string
	Date        *time.Time
	BodyText    string
	BodyHTML    string
	Attachments []ParsedAttachment
	HadErrors   bool
}

// ParsedAttachment carries decoded attachment bytes plus their content hash.
// A part that failed to decode has empty Content and a DecodeErr marker; the
// rest of the message is unaffected.
type ParsedAttachment struct {
	Filename  string
	MimeType  string
	Content   []byte
	Hash      string
	IsInline  bool
	ContentID string
	DecodeErr string
}

// Parse decodes a raw MIME message into headers, bodies, and attachments.
func Parse(raw []byte) (*ParsedMessage, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	parsed := &ParsedMessage{
		MessageID:  normalizeMessageID(envelope.GetHeader("Message-Id")),
		InReplyTo:  normalizeMessageID(envelope.GetHeader("In-Reply-To")),
		References: parseReferences(envelope.GetHeader("References")),
		Subject:    envelope.GetHeader("Subject"),
		BodyText:   envelope.Text,
		BodyHTML:   NormalizeHTML(envelope.HTML),
	}

	if from, err := envelope.AddressList("From"); err == nil && len(from) > 0 {
		parsed.FromAddress = from[0].Address
	}
	parsed.ToAddresses = addressStrings(envelope, "To")
	parsed.CCAddresses = addressStrings(envelope, "Cc")

	if date, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil && !date.IsZero() {
		parsed.Date = &date
	}

	for _, part := range envelope.Attachments {
		parsed.Attachments = append(parsed.Attachments, parseAttachment(part, false))
	}
	for _, part := range envelope.Inlines {
		// Inline parts without a filename are usually body fragments, not attachments.
		if part.FileName == "" && part.ContentID == "" {
			continue
		}
		parsed.Attachments = append(parsed.Attachments, parseAttachment(part, true))
	}

	for i := range parsed.Attachments {
		if parsed.Attachments[i].DecodeErr != "" {
			parsed.HadErrors = true
			break
		}
	}

	return parsed, nil
}

// parseAttachment hashes a decoded part. Severe part errors become a decode
// marker on a zero-byte attachment instead of failing the whole message.
func parseAttachment(part *enmime.Part, inline bool) ParsedAttachment {
	att := ParsedAttachment{
		Filename:  part.FileName,
		MimeType:  part.ContentType,
		IsInline:  inline,
		ContentID: part.ContentID,
	}

	for _, partErr := range part.Errors {
		if partErr.Severe {
			att.DecodeErr = fmt.Sprintf("%s: %s", partErr.Name, partErr.Detail)
			att.Content = nil
			att.Hash = blob.Hash(nil)
			return att
		}
	}

	att.Content = part.Content
	att.Hash = blob.Hash(part.Content)
	return att
}

// ToModel converts a parsed attachment to its metadata row.
func (a *ParsedAttachment) ToModel(storageKey string) models.Attachment {
	return models.Attachment{
		Filename:   a.Filename,
		MimeType:   a.MimeType,
		SizeBytes:  int64(len(a.Content)),
		Hash:       a.Hash,
		StorageKey: storageKey,
		IsInline:   a.IsInline,
		ContentID:  a.ContentID,
		ParseError: a.DecodeErr,
	}
}

func addressStrings(envelope *enmime.Envelope, key string) []string {
	list, err := envelope.AddressList(key)
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range list {
		out = append(out, addr.Address)
	}
	return out
}

// normalizeMessageID strips angle brackets and whitespace from a Message-ID
// style header so ids compare stably across providers.
func normalizeMessageID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

// parseReferences splits a References header into individual message ids,
// oldest first, as the header is written.
func parseReferences(raw string) []string {
	fields := strings.Fields(raw)
	var refs []string
	for _, field := range fields {
		id := normalizeMessageID(field)
		if id != "" {
			refs = append(refs, id)
		}
	}
	return refs
}

// Matches paragraphs that contain only whitespace, non-breaking spaces, or
// line breaks. Mail clients pad composed HTML with these.
var emptyParagraphRe = regexp.MustCompile(`(?i)<p[^>]*>(\s|&nbsp;|<br\s*/?>)*</p>`)

// NormalizeHTML strips empty auto-generated paragraphs without touching
// semantic content such as intentional double line breaks inside text.
func NormalizeHTML(html string) string {
	if html == "" {
		return ""
	}
	return emptyParagraphRe.ReplaceAllString(html, "")
}
