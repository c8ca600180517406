package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
)

// Client submits outgoing mail for one account over net/smtp with STARTTLS
// or implicit TLS.
type Client struct {
	account  *models.Account
	accounts interfaces.AccountRepository
	tokens   interfaces.TokenManager
	log      logger.Logger
}

func NewClient(account *models.Account, accounts interfaces.AccountRepository, tokens interfaces.TokenManager, log logger.Logger) *Client {
	return &Client{
		account:  account,
		accounts: accounts,
		tokens:   tokens,
		log:      log,
	}
}

// Send validates, builds the MIME document and submits it in one SMTP
// transaction. Validation failures surface before any network I/O; a server
// failure comes back as a SendError with the composed message untouched.
func (s *Client) Send(ctx context.Context, message *interfaces.OutgoingMessage, attachments []interfaces.OutgoingAttachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, s.account.ID)

	if err := validateMessage(message); err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	raw, err := buildMessage(message, attachments)
	if err != nil {
		tracing.TraceErr(span, err)
		return coveerr.Send(err)
	}

	auth, err := s.auth(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	recipients := allRecipients(message)
	if err := s.sendToServer(ctx, auth, message.From, recipients, raw); err != nil {
		tracing.TraceErr(span, err)
		return coveerr.Send(err)
	}

	s.log.Infof("sent message to %d recipients for account %s", len(recipients), s.account.ID)
	return nil
}

func validateMessage(message *interfaces.OutgoingMessage) error {
	if message == nil {
		return coveerr.Validation("message", "cannot be nil")
	}
	if message.From == "" {
		return coveerr.Validation("from", "is required")
	}
	if len(message.To) == 0 {
		return coveerr.Validation("to", "at least one recipient is required")
	}
	if message.BodyText == "" && message.BodyHTML == "" {
		return coveerr.Validation("body", "must have either text or HTML content")
	}

	for _, recipient := range allRecipients(message) {
		validation := mailvalidate.ValidateEmailSyntax(recipient)
		if !validation.IsValid {
			return coveerr.Validation("recipient", fmt.Sprintf("%s is not a valid address", recipient))
		}
	}
	return nil
}

func allRecipients(message *interfaces.OutgoingMessage) []string {
	recipients := make([]string, 0, len(message.To)+len(message.Cc)+len(message.Bcc))
	recipients = append(recipients, message.To...)
	recipients = append(recipients, message.Cc...)
	recipients = append(recipients, message.Bcc...)
	return recipients
}

func (s *Client) auth(ctx context.Context) (smtp.Auth, error) {
	if s.account.AuthKind == enum.AuthKindOAuth2 {
		token, err := s.tokens.AccessToken(ctx, s.account)
		if err != nil {
			return nil, err
		}
		return newXOAuth2Auth(s.account.SmtpUsername, token), nil
	}

	password, err := s.accounts.GetPassword(ctx, s.account.ID)
	if err != nil {
		return nil, err
	}
	return smtp.PlainAuth("", s.account.SmtpUsername, password, s.account.SmtpServer), nil
}

func (s *Client) sendToServer(ctx context.Context, auth smtp.Auth, from string, recipients []string, raw []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.sendToServer")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	addr := fmt.Sprintf("%s:%d", s.account.SmtpServer, s.account.SmtpPort)

	if s.account.SmtpSecurity == enum.EmailSecurityTLS {
		return s.sendWithExplicitTLS(ctx, addr, auth, from, recipients, raw)
	}
	return s.sendWithSTARTTLS(ctx, addr, auth, from, recipients, raw)
}

func (s *Client) sendWithSTARTTLS(ctx context.Context, addr string, auth smtp.Auth, from string, recipients []string, raw []byte) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.sendWithSTARTTLS")
	defer span.Finish()
	span.LogKV("address", addr)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		err = fmt.Errorf("failed to connect to SMTP server: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.account.SmtpServer)
	if err != nil {
		err = fmt.Errorf("failed to create SMTP client: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: s.account.SmtpServer}
	if err = client.StartTLS(tlsConfig); err != nil {
		err = fmt.Errorf("failed to start TLS: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	return s.submit(span, client, auth, from, recipients, raw)
}

func (s *Client) sendWithExplicitTLS(ctx context.Context, addr string, auth smtp.Auth, from string, recipients []string, raw []byte) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Client.sendWithExplicitTLS")
	defer span.Finish()
	span.LogKV("address", addr)

	tlsConfig := &tls.Config{ServerName: s.account.SmtpServer}
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		err = fmt.Errorf("failed to connect to SMTP server: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.account.SmtpServer)
	if err != nil {
		err = fmt.Errorf("failed to create SMTP client: %w", err)
		tracing.TraceErr(span, err)
		return err
	}
	defer client.Close()

	return s.submit(span, client, auth, from, recipients, raw)
}

func (s *Client) submit(span opentracing.Span, client *smtp.Client, auth smtp.Auth, from string, recipients []string, raw []byte) error {
	if err := client.Auth(auth); err != nil {
		err = fmt.Errorf("SMTP authentication failed: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	if err := client.Mail(from); err != nil {
		err = fmt.Errorf("SMTP MAIL command failed: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			err = fmt.Errorf("SMTP RCPT command failed for %s: %w", recipient, err)
			tracing.TraceErr(span, err)
			return err
		}
	}

	dataWriter, err := client.Data()
	if err != nil {
		err = fmt.Errorf("SMTP DATA command failed: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	if _, err = dataWriter.Write(raw); err != nil {
		err = fmt.Errorf("failed to write message data: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	if err = dataWriter.Close(); err != nil {
		err = fmt.Errorf("failed to close data writer: %w", err)
		tracing.TraceErr(span, err)
		return err
	}

	return client.Quit()
}
