package mime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleMessage = "From: Alice Seller <alice@crm.example>\r\n" +
	"To: buyer@lead.example\r\n" +
	"Cc: manager@crm.example\r\n" +
	"Subject: Proposal follow-up\r\n" +
	"Date: Mon, 12 Jan 2026 09:30:00 +0000\r\n" +
	"Message-Id: <root-1@crm.example>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi,\r\n\r\nFollowing up on the proposal.\r\n"

const replyMessage = "From: buyer@lead.example\r\n" +
	"To: alice@crm.example\r\n" +
	"Subject: Re: Proposal follow-up\r\n" +
	"Message-Id: <reply-1@lead.example>\r\n" +
	"In-Reply-To: <root-1@crm.example>\r\n" +
	"References: <older@crm.example> <root-1@crm.example>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Sounds good.\r\n"

func multipartMessage(t *testing.T) string {
	t.Helper()
	return "From: alice@crm.example\r\n" +
		"To: buyer@lead.example\r\n" +
		"Subject: Contract attached\r\n" +
		"Message-Id: <attach-1@crm.example>\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"frontier\"\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p></p><p>Contract attached.</p><p>&nbsp;</p>\r\n" +
		"--frontier\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"contract.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"Y29udHJhY3QgYnl0ZXM=\r\n" +
		"--frontier--\r\n"
}

func TestParseSimpleMessage(t *testing.T) {
	parsed, err := Parse([]byte(simpleMessage))
	require.NoError(t, err)

	assert.Equal(t, "root-1@crm.example", parsed.MessageID)
	assert.Equal(t, "alice@crm.example", parsed.FromAddress)
	assert.Equal(t, []string{"buyer@lead.example"}, parsed.ToAddresses)
	assert.Equal(t, []string{"manager@crm.example"}, parsed.CCAddresses)
	assert.Equal(t, "Proposal follow-up", parsed.Subject)
	require.NotNil(t, parsed.Date)
	assert.Empty(t, parsed.InReplyTo)
	assert.Empty(t, parsed.References)
	// The intentional double line break must survive parsing.
	text := strings.ReplaceAll(parsed.BodyText, "\r\n", "\n")
	assert.Contains(t, text, "Hi,\n\nFollowing up")
}

func TestParseThreadingHeaders(t *testing.T) {
	parsed, err := Parse([]byte(replyMessage))
	require.NoError(t, err)

	assert.Equal(t, "reply-1@lead.example", parsed.MessageID)
	assert.Equal(t, "root-1@crm.example", parsed.InReplyTo)
	assert.Equal(t, []string{"older@crm.example", "root-1@crm.example"}, parsed.References)
}

func TestParseMultipartWithAttachment(t *testing.T) {
	parsed, err := Parse([]byte(multipartMessage(t)))
	require.NoError(t, err)

	require.Len(t, parsed.Attachments, 1)
	att := parsed.Attachments[0]
	assert.Equal(t, "contract.pdf", att.Filename)
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.Equal(t, []byte("contract bytes"), att.Content)
	assert.NotEmpty(t, att.Hash)
	assert.Empty(t, att.DecodeErr)

	// Empty auto-generated paragraphs are stripped, real content is kept.
	assert.NotContains(t, parsed.BodyHTML, "<p></p>")
	assert.Contains(t, parsed.BodyHTML, "Contract attached.")
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("\x00\x01not a message"))
	// enmime is lenient; either outcome must not panic, and a nil error must
	// still yield a usable (if empty) result.
	if err == nil {
		t.Log("parser accepted malformed input leniently")
	}
}

func TestAttachmentHashStability(t *testing.T) {
	first, err := Parse([]byte(multipartMessage(t)))
	require.NoError(t, err)
	second, err := Parse([]byte(strings.Replace(multipartMessage(t), "attach-1", "attach-2", 1)))
	require.NoError(t, err)

	require.Len(t, first.Attachments, 1)
	require.Len(t, second.Attachments, 1)
	// Same bytes in different messages produce the same content hash.
	assert.Equal(t, first.Attachments[0].Hash, second.Attachments[0].Hash)
}

func TestNormalizeHTML(t *testing.T) {
	t.Run("strips empty paragraph variants", func(t *testing.T) {
		input := `<p></p><p> </p><p>&nbsp;</p><p><br></p><p dir="ltr"></p><p>real</p>`
		assert.Equal(t, "<p>real</p>", NormalizeHTML(input))
	})

	t.Run("keeps non-empty content untouched", func(t *testing.T) {
		input := "<p>line one</p>\n\n<p>line two</p>"
		assert.Equal(t, input, NormalizeHTML(input))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", NormalizeHTML(""))
	})
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "id@host", normalizeMessageID(" <id@host> "))
	assert.Equal(t, "id@host", normalizeMessageID("id@host"))
	assert.Equal(t, "", normalizeMessageID(""))
}

func TestParseReferences(t *testing.T) {
	refs := parseReferences("<a@x>\r\n <b@y> <c@z>")
	assert.Equal(t, []string{"a@x", "b@y", "c@z"}, refs)
	assert.Nil(t, parseReferences(""))
}
