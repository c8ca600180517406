package imap

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/textproto"
	"sort"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"

	"github.com/mailcove/mailcove/interfaces"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/tracing"
	"github.com/mailcove/mailcove/internal/utils"
)

var headerFetchItems = []goimap.FetchItem{
	goimap.FetchEnvelope,
	goimap.FetchFlags,
	goimap.FetchBodyStructure,
	goimap.FetchUid,
}

// FetchHeaders returns headers above sinceUID, oldest first. sinceUID 0 means
// the folder was never synced: only the most recent limit messages come back.
func (c *Client) FetchHeaders(ctx context.Context, folder string, sinceUID uint32, limit int) ([]interfaces.HeaderRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.FetchHeaders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("folder.name", folder)
	span.SetTag("since_uid", sinceUID)

	var records []interfaces.HeaderRecord
	err := c.withConn(ctx, func(conn *client.Client) error {
		records = records[:0]
		if err := c.selectFolder(conn, folder); err != nil {
			return err
		}

		if sinceUID == 0 {
			return c.fetchRecentHeaders(conn, folder, limit, &records)
		}
		return c.fetchHeadersSinceUID(conn, folder, sinceUID, &records)
	})
	if err != nil {
		err = classify("FETCH", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UID < records[j].UID
	})
	span.SetTag("messages.count", len(records))
	return records, nil
}

// fetchRecentHeaders grabs the newest limit messages by sequence number, the
// first-sync path.
func (c *Client) fetchRecentHeaders(conn *client.Client, folder string, limit int, records *[]interfaces.HeaderRecord) error {
	status := conn.Mailbox()
	if status == nil || status.Messages == 0 {
		log.Printf("[%s][%s] Folder is empty", c.account.ID, folder)
		return nil
	}

	from := uint32(1)
	if status.Messages > uint32(limit) {
		from = status.Messages - uint32(limit) + 1
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddRange(from, status.Messages)

	log.Printf("[%s][%s] Initial sync of messages %d-%d", c.account.ID, folder, from, status.Messages)
	return c.collectHeaders(conn, seqSet, false, records)
}

// fetchHeadersSinceUID searches above the watermark and fetches in batches.
func (c *Client) fetchHeadersSinceUID(conn *client.Client, folder string, sinceUID uint32, records *[]interfaces.HeaderRecord) error {
	criteria := goimap.NewSearchCriteria()
	uidRange := new(goimap.SeqSet)
	uidRange.AddRange(sinceUID+1, 0)
	criteria.Uid = uidRange

	conn.Timeout = commandTimeout
	uids, err := conn.UidSearch(criteria)
	conn.Timeout = 0
	if err != nil {
		return err
	}
	uids = uidsAbove(uids, sinceUID)
	if len(uids) == 0 {
		log.Printf("[%s][%s] No new messages since UID %d", c.account.ID, folder, sinceUID)
		return nil
	}
	log.Printf("[%s][%s] Found %d new messages since UID %d", c.account.ID, folder, len(uids), sinceUID)

	for i := 0; i < len(uids); i += fetchBatchSize {
		end := i + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}
		seqSet := new(goimap.SeqSet)
		for _, uid := range uids[i:end] {
			seqSet.AddNum(uid)
		}
		if err := c.collectHeaders(conn, seqSet, true, records); err != nil {
			return err
		}
	}
	return nil
}

// uidsAbove drops UIDs at or below the watermark. A UID range ending in *
// always matches the last message in the mailbox (RFC 3501), so a search for
// watermark+1:* returns the highest cached message again when nothing new
// arrived.
func uidsAbove(uids []uint32, sinceUID uint32) []uint32 {
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > sinceUID {
			out = append(out, uid)
		}
	}
	return out
}

func (c *Client) collectHeaders(conn *client.Client, seqSet *goimap.SeqSet, isUID bool, records *[]interfaces.HeaderRecord) error {
	messages := make(chan *goimap.Message, 10)
	done := make(chan error, 1)

	conn.Timeout = fetchTimeout
	go func() {
		if isUID {
			done <- conn.UidFetch(seqSet, headerFetchItems, messages)
		} else {
			done <- conn.Fetch(seqSet, headerFetchItems, messages)
		}
	}()

	for msg := range messages {
		record := headerRecord(msg)
		if record.UID > 0 {
			*records = append(*records, record)
		}
	}
	conn.Timeout = 0
	return <-done
}

func headerRecord(msg *goimap.Message) interfaces.HeaderRecord {
	record := interfaces.HeaderRecord{
		UID:   msg.Uid,
		Flags: msg.Flags,
	}
	if env := msg.Envelope; env != nil {
		record.MessageID = utils.NormalizeMessageID(env.MessageId)
		record.Subject = env.Subject
		if !env.Date.IsZero() {
			date := env.Date.UTC()
			record.SentAt = &date
		}
		if len(env.From) > 0 {
			record.Sender = env.From[0].Address()
			record.SenderName = env.From[0].PersonalName
		}
		record.ToAddresses = addressList(env.To)
		record.CcAddresses = addressList(env.Cc)
	}
	if msg.BodyStructure != nil {
		record.HasAttachment = hasAttachmentParts(msg.BodyStructure)
	}
	return record
}

func addressList(addresses []*goimap.Address) []string {
	var list []string
	for _, a := range addresses {
		list = append(list, a.Address())
	}
	return list
}

func hasAttachmentParts(structure *goimap.BodyStructure) bool {
	if structure.Disposition == "attachment" {
		return true
	}
	for _, part := range structure.Parts {
		if hasAttachmentParts(part) {
			return true
		}
	}
	return false
}

// FetchFlags returns the live flag sets for the given UIDs. UIDs the server
// no longer knows simply do not appear.
func (c *Client) FetchFlags(ctx context.Context, folder string, uids []uint32) ([]interfaces.FlagRecord, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.FetchFlags")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("folder.name", folder)
	span.SetTag("uids.count", len(uids))

	if len(uids) == 0 {
		return nil, nil
	}

	var records []interfaces.FlagRecord
	err := c.withConn(ctx, func(conn *client.Client) error {
		records = records[:0]
		if err := c.selectFolder(conn, folder); err != nil {
			return err
		}

		seqSet := new(goimap.SeqSet)
		for _, uid := range uids {
			seqSet.AddNum(uid)
		}

		messages := make(chan *goimap.Message, 10)
		done := make(chan error, 1)

		conn.Timeout = commandTimeout
		go func() {
			done <- conn.UidFetch(seqSet, []goimap.FetchItem{goimap.FetchFlags, goimap.FetchUid}, messages)
		}()

		for msg := range messages {
			if msg.Uid > 0 {
				records = append(records, interfaces.FlagRecord{UID: msg.Uid, Flags: msg.Flags})
			}
		}
		conn.Timeout = 0
		return <-done
	})
	if err != nil {
		err = classify("FETCH", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	return records, nil
}

// FetchBody retrieves one message and MIME-parses it.
func (c *Client) FetchBody(ctx context.Context, folder string, uid uint32) (*interfaces.BodyContent, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.FetchBody")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("folder.name", folder)
	span.SetTag("uid", uid)

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid}

	var raw []byte
	err := c.withConn(ctx, func(conn *client.Client) error {
		raw = nil
		if err := c.selectFolder(conn, folder); err != nil {
			return err
		}

		seqSet := new(goimap.SeqSet)
		seqSet.AddNum(uid)

		messages := make(chan *goimap.Message, 1)
		done := make(chan error, 1)

		conn.Timeout = fetchTimeout
		go func() {
			done <- conn.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			body := msg.GetBody(section)
			if body == nil {
				continue
			}
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(body); err != nil {
				return err
			}
			raw = buf.Bytes()
		}
		conn.Timeout = 0
		return <-done
	})
	if err != nil {
		err = classify("FETCH", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	if raw == nil {
		return nil, coveerr.ErrMessageNotFound
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, coveerr.Protocol("FETCH", fmt.Sprintf("unparseable message body: %v", err))
	}

	content := &interfaces.BodyContent{
		Text: envelope.Text,
		HTML: envelope.HTML,
	}
	for _, part := range envelope.Attachments {
		content.Attachments = append(content.Attachments, interfaces.AttachmentInfo{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			ContentID:   part.ContentID,
			Size:        len(part.Content),
			Data:        part.Content,
		})
	}
	for _, part := range envelope.Inlines {
		if part.FileName == "" && part.ContentID == "" {
			continue
		}
		content.Attachments = append(content.Attachments, interfaces.AttachmentInfo{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			ContentID:   part.ContentID,
			Size:        len(part.Content),
			IsInline:    true,
			Data:        part.Content,
		})
	}
	return content, nil
}

// SetFlags updates one flag on the server. No store command is issued when
// the requested state already holds, so repeating the call is free.
func (c *Client) SetFlags(ctx context.Context, folder string, uid uint32, flag string, set bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.SetFlags")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("folder.name", folder)
	span.SetTag("uid", uid)
	span.SetTag("flag", flag)

	err := c.withConn(ctx, func(conn *client.Client) error {
		if err := c.selectFolder(conn, folder); err != nil {
			return err
		}

		current, err := c.currentFlags(conn, uid)
		if err != nil {
			return err
		}
		if utils.IsStringInSlice(flag, current) == set {
			log.Printf("[%s][%s] Flag %s already %v on UID %d, skipping store",
				c.account.ID, folder, flag, set, uid)
			return nil
		}

		op := goimap.FlagsOp(goimap.AddFlags)
		if !set {
			op = goimap.RemoveFlags
		}
		seqSet := new(goimap.SeqSet)
		seqSet.AddNum(uid)
		item := goimap.FormatFlagsOp(op, true)
		return conn.UidStore(seqSet, item, []interface{}{flag}, nil)
	})
	if err != nil {
		err = classify("STORE", err)
		tracing.TraceErr(span, err)
	}
	return err
}

func (c *Client) currentFlags(conn *client.Client, uid uint32) ([]string, error) {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)

	conn.Timeout = commandTimeout
	go func() {
		done <- conn.UidFetch(seqSet, []goimap.FetchItem{goimap.FetchFlags, goimap.FetchUid}, messages)
	}()

	var flags []string
	found := false
	for msg := range messages {
		if msg.Uid == uid {
			flags = msg.Flags
			found = true
		}
	}
	conn.Timeout = 0
	if err := <-done; err != nil {
		return nil, err
	}
	if !found {
		return nil, coveerr.ErrMessageNotFound
	}
	return flags, nil
}

// Delete marks the message \Deleted and expunges the folder.
func (c *Client) Delete(ctx context.Context, folder string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("folder.name", folder)
	span.SetTag("uid", uid)

	err := c.withConn(ctx, func(conn *client.Client) error {
		if err := c.selectFolder(conn, folder); err != nil {
			return err
		}

		seqSet := new(goimap.SeqSet)
		seqSet.AddNum(uid)
		item := goimap.FormatFlagsOp(goimap.AddFlags, true)
		if err := conn.UidStore(seqSet, item, []interface{}{goimap.DeletedFlag}, nil); err != nil {
			return err
		}
		return conn.Expunge(nil)
	})
	if err != nil {
		err = classify("EXPUNGE", err)
		tracing.TraceErr(span, err)
	}
	return err
}

// Move copies the message to destFolder, deletes the original and resolves
// the UID the destination assigned. The resolution reads UIDNEXT before the
// copy, then searches the destination for the Message-Id above it; when that
// cannot narrow to exactly one UID, 0 is returned and the next sync pass
// reconciles the moved row.
func (c *Client) Move(ctx context.Context, srcFolder string, uid uint32, destFolder string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.Move")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("folder.src", srcFolder)
	span.SetTag("folder.dest", destFolder)
	span.SetTag("uid", uid)

	var newUID uint32
	err := c.withConn(ctx, func(conn *client.Client) error {
		newUID = 0
		if err := c.selectFolder(conn, srcFolder); err != nil {
			return err
		}

		messageID, err := c.messageID(conn, uid)
		if err != nil {
			return err
		}

		status, err := conn.Status(destFolder, []goimap.StatusItem{goimap.StatusUidNext})
		if err != nil {
			return err
		}
		uidNext := status.UidNext

		seqSet := new(goimap.SeqSet)
		seqSet.AddNum(uid)
		if err := conn.UidCopy(seqSet, destFolder); err != nil {
			return err
		}

		item := goimap.FormatFlagsOp(goimap.AddFlags, true)
		if err := conn.UidStore(seqSet, item, []interface{}{goimap.DeletedFlag}, nil); err != nil {
			return err
		}
		if err := conn.Expunge(nil); err != nil {
			return err
		}

		if messageID == "" {
			return nil
		}
		resolved, err := c.resolveMovedUID(conn, destFolder, uidNext, messageID)
		if err != nil {
			log.Printf("[%s][%s] Could not resolve moved message UID: %v", c.account.ID, destFolder, err)
			return nil
		}
		newUID = resolved
		return nil
	})
	if err != nil {
		err = classify("COPY", err)
		tracing.TraceErr(span, err)
		return 0, err
	}
	return newUID, nil
}

func (c *Client) messageID(conn *client.Client, uid uint32) (string, error) {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)

	conn.Timeout = commandTimeout
	go func() {
		done <- conn.UidFetch(seqSet, []goimap.FetchItem{goimap.FetchEnvelope, goimap.FetchUid}, messages)
	}()

	var messageID string
	for msg := range messages {
		if msg.Envelope != nil {
			messageID = msg.Envelope.MessageId
		}
	}
	conn.Timeout = 0
	if err := <-done; err != nil {
		return "", err
	}
	return messageID, nil
}

func (c *Client) resolveMovedUID(conn *client.Client, destFolder string, uidNext uint32, messageID string) (uint32, error) {
	if err := c.selectFolder(conn, destFolder); err != nil {
		return 0, err
	}

	criteria := goimap.NewSearchCriteria()
	uidRange := new(goimap.SeqSet)
	uidRange.AddRange(uidNext, 0)
	criteria.Uid = uidRange
	criteria.Header = textproto.MIMEHeader{}
	criteria.Header.Set("Message-Id", messageID)

	conn.Timeout = commandTimeout
	uids, err := conn.UidSearch(criteria)
	conn.Timeout = 0
	if err != nil {
		return 0, err
	}
	if len(uids) != 1 {
		return 0, nil
	}
	return uids[0], nil
}

// Append uploads a composed message into folder, used for saving drafts.
func (c *Client) Append(ctx context.Context, folder string, raw []byte, flags []string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.Append")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("folder.name", folder)

	err := c.withConn(ctx, func(conn *client.Client) error {
		return conn.Append(folder, flags, time.Now(), bytes.NewReader(raw))
	})
	if err != nil {
		err = classify("APPEND", err)
		tracing.TraceErr(span, err)
	}
	return err
}
