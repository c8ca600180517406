package interfaces

import "context"

// OutgoingMessage is a composed mail ready for submission.
type OutgoingMessage struct {
	From     string
	FromName string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	BodyText string
	BodyHTML string
}

type OutgoingAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SMTPClient submits one message atomically: either the whole MIME body is
// accepted or a SendError is returned and nothing is lost.
type SMTPClient interface {
	Send(ctx context.Context, message *OutgoingMessage, attachments []OutgoingAttachment) error
}
