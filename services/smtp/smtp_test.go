package smtp

import (
	netsmtp "net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailcove/mailcove/interfaces"
	coveerr "github.com/mailcove/mailcove/internal/errors"
)

func outgoing() *interfaces.OutgoingMessage {
	return &interfaces.OutgoingMessage{
		From:     "alice@example.com",
		FromName: "Alice",
		To:       []string{"bob@example.com"},
		Subject:  "Hello",
		BodyText: "plain text body",
	}
}

func TestValidateMessageRejectsMissingFields(t *testing.T) {
	err := validateMessage(nil)
	assert.True(t, coveerr.IsValidation(err))

	message := outgoing()
	message.From = ""
	assert.True(t, coveerr.IsValidation(validateMessage(message)))

	message = outgoing()
	message.To = nil
	assert.True(t, coveerr.IsValidation(validateMessage(message)))

	message = outgoing()
	message.BodyText = ""
	assert.True(t, coveerr.IsValidation(validateMessage(message)))
}

func TestValidateMessageRejectsMalformedRecipient(t *testing.T) {
	message := outgoing()
	message.Cc = []string{"not-an-address"}

	err := validateMessage(message)
	assert.True(t, coveerr.IsValidation(err))
	assert.Contains(t, err.Error(), "not-an-address")
}

func TestValidateMessageAcceptsWellFormed(t *testing.T) {
	message := outgoing()
	message.Cc = []string{"carol@example.com"}
	message.Bcc = []string{"dave@example.com"}
	assert.NoError(t, validateMessage(message))
}

func TestAllRecipientsIncludesBcc(t *testing.T) {
	message := outgoing()
	message.Cc = []string{"carol@example.com"}
	message.Bcc = []string{"dave@example.com"}

	recipients := allRecipients(message)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com", "dave@example.com"}, recipients)
}

func TestBuildMessagePlainTextOnly(t *testing.T) {
	raw, err := buildMessage(outgoing(), nil)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, "From: Alice <alice@example.com>\r\n")
	assert.Contains(t, body, "To: bob@example.com\r\n")
	assert.Contains(t, body, "Subject: Hello\r\n")
	assert.Contains(t, body, "Content-Type: text/plain; charset=UTF-8\r\n")
	assert.Contains(t, body, "Message-ID: <")
	assert.True(t, strings.HasSuffix(body, "plain text body"))
	assert.NotContains(t, body, "boundary=")
}

func TestBuildMessageMultipartWithHTML(t *testing.T) {
	message := outgoing()
	message.BodyHTML = "<p>html body</p>"

	raw, err := buildMessage(message, nil)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, "Content-Type: multipart/mixed; boundary=")
	assert.Contains(t, body, "text/plain; charset=UTF-8")
	assert.Contains(t, body, "text/html; charset=UTF-8")
	assert.Contains(t, body, "plain text body")
	assert.Contains(t, body, "<p>html body</p>")
}

func TestBuildMessageWithAttachment(t *testing.T) {
	message := outgoing()
	attachments := []interfaces.OutgoingAttachment{{
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte("attached content"),
	}}

	raw, err := buildMessage(message, attachments)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `attachment; filename="notes.txt"`)
	assert.Contains(t, body, "Content-Transfer-Encoding: base64")
	// base64 of "attached content"
	assert.Contains(t, body, "YXR0YWNoZWQgY29udGVudA==")
}

func TestBuildMessageBccNeverInHeaders(t *testing.T) {
	message := outgoing()
	message.Bcc = []string{"secret@example.com"}

	raw, err := buildMessage(message, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret@example.com")
}

func TestXOAuth2AuthRequiresTLS(t *testing.T) {
	auth := newXOAuth2Auth("alice@example.com", "tok")

	_, _, err := auth.Start(&netsmtp.ServerInfo{Name: "smtp.example.com", TLS: false})
	assert.Error(t, err)

	mech, ir, err := auth.Start(&netsmtp.ServerInfo{Name: "smtp.example.com", TLS: true})
	require.NoError(t, err)
	assert.Equal(t, "XOAUTH2", mech)
	assert.Equal(t, "user=alice@example.com\x01auth=Bearer tok\x01\x01", string(ir))

	response, err := auth.Next([]byte(`{"status":"400"}`), true)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, response)

	response, err = auth.Next(nil, false)
	require.NoError(t, err)
	assert.Nil(t, response)
}
