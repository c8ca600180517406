package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/utils"
)

// buildMessage renders the outgoing message as a full RFC 5322 document:
// plain headers, then either a single text body or a multipart/mixed body
// with text, HTML and base64 attachments.
func buildMessage(message *interfaces.OutgoingMessage, attachments []interfaces.OutgoingAttachment) ([]byte, error) {
	buffer := bytes.NewBuffer(nil)

	headers := buildHeaders(message)

	if message.BodyHTML == "" && len(attachments) == 0 {
		headers["Content-Type"] = "text/plain; charset=UTF-8"
		writeHeaders(headers, buffer)
		buffer.WriteString(message.BodyText)
		return buffer.Bytes(), nil
	}

	writer := multipart.NewWriter(buffer)
	headers["Content-Type"] = "multipart/mixed; boundary=" + writer.Boundary()
	writeHeaders(headers, buffer)

	if message.BodyText != "" {
		if err := addTextPart(writer, "text/plain; charset=UTF-8", message.BodyText); err != nil {
			return nil, err
		}
	}
	if message.BodyHTML != "" {
		if err := addTextPart(writer, "text/html; charset=UTF-8", message.BodyHTML); err != nil {
			return nil, err
		}
	}
	for _, attachment := range attachments {
		if err := addAttachment(writer, attachment); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func buildHeaders(message *interfaces.OutgoingMessage) map[string]string {
	from := message.From
	if message.FromName != "" {
		from = fmt.Sprintf("%s <%s>", message.FromName, message.From)
	}

	headers := map[string]string{
		"From":         from,
		"To":           strings.Join(message.To, ", "),
		"Subject":      message.Subject,
		"Date":         time.Now().Format(time.RFC1123Z),
		"Message-ID":   utils.GenerateMessageID(domainOf(message.From)),
		"MIME-Version": "1.0",
	}
	if len(message.Cc) > 0 {
		headers["Cc"] = strings.Join(message.Cc, ", ")
	}
	return headers
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}

// writeHeaders writes email headers to the buffer
func writeHeaders(headers map[string]string, buffer *bytes.Buffer) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buffer.WriteString(fmt.Sprintf("%s: %s\r\n", k, headers[k]))
	}
	buffer.WriteString("\r\n")
}

func addTextPart(writer *multipart.Writer, contentType, content string) error {
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return fmt.Errorf("failed to create part: %w", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		return fmt.Errorf("failed to write part content: %w", err)
	}
	return nil
}

func addAttachment(writer *multipart.Writer, attachment interfaces.OutgoingAttachment) error {
	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("%s; name=%q", contentType, attachment.Filename)},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", attachment.Filename)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return fmt.Errorf("failed to create attachment part: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(attachment.Data)
	// 76-character lines per RFC 2045
	for len(encoded) > 76 {
		if _, err := part.Write([]byte(encoded[:76] + "\r\n")); err != nil {
			return fmt.Errorf("failed to write attachment content: %w", err)
		}
		encoded = encoded[76:]
	}
	if _, err := part.Write([]byte(encoded)); err != nil {
		return fmt.Errorf("failed to write attachment content: %w", err)
	}
	return nil
}
