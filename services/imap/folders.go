package imap

import (
	"context"
	"log"
	"sort"
	"strings"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/enum"
	"github.com/mailcove/mailcove/internal/tracing"
)

// ListFolders returns every mailbox on the server, special-use attributes
// mapped onto folder kinds.
func (c *Client) ListFolders(ctx context.Context) ([]interfaces.FolderInfo, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)

	var folders []interfaces.FolderInfo
	err := c.withConn(ctx, func(conn *client.Client) error {
		folders = folders[:0]
		mailboxes := make(chan *goimap.MailboxInfo, 10)
		done := make(chan error, 1)

		go func() {
			done <- conn.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			if hasAttribute(m.Attributes, goimap.NoSelectAttr) {
				continue
			}
			folders = append(folders, interfaces.FolderInfo{
				ServerPath: m.Name,
				Name:       displayName(m.Name, m.Delimiter),
				Delimiter:  m.Delimiter,
				Kind:       folderKind(m.Name, m.Attributes),
			})
		}
		return <-done
	})
	if err != nil {
		err = classify("LIST", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	sort.Slice(folders, func(i, j int) bool {
		return folders[i].ServerPath < folders[j].ServerPath
	})

	span.SetTag("folders.count", len(folders))
	log.Printf("[%s] Found %d folders", c.account.ID, len(folders))
	return folders, nil
}

func (c *Client) CreateFolder(ctx context.Context, path string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.CreateFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)

	err := c.withConn(ctx, func(conn *client.Client) error {
		return conn.Create(path)
	})
	if err != nil {
		err = classify("CREATE", err)
		tracing.TraceErr(span, err)
	}
	return err
}

func (c *Client) RenameFolder(ctx context.Context, oldPath, newPath string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.RenameFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)

	err := c.withConn(ctx, func(conn *client.Client) error {
		if c.selected == oldPath {
			c.selected = ""
		}
		return conn.Rename(oldPath, newPath)
	})
	if err != nil {
		err = classify("RENAME", err)
		tracing.TraceErr(span, err)
	}
	return err
}

func (c *Client) DeleteFolder(ctx context.Context, path string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.DeleteFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)

	err := c.withConn(ctx, func(conn *client.Client) error {
		if c.selected == path {
			c.selected = ""
		}
		return conn.Delete(path)
	})
	if err != nil {
		err = classify("DELETE", err)
		tracing.TraceErr(span, err)
	}
	return err
}

func hasAttribute(attributes []string, attribute string) bool {
	for _, a := range attributes {
		if strings.EqualFold(a, attribute) {
			return true
		}
	}
	return false
}

// folderKind maps RFC 6154 special-use attributes onto folder kinds, falling
// back to well-known names for servers that do not advertise SPECIAL-USE.
func folderKind(name string, attributes []string) enum.FolderKind {
	switch {
	case hasAttribute(attributes, goimap.SentAttr):
		return enum.FolderKindSent
	case hasAttribute(attributes, goimap.DraftsAttr):
		return enum.FolderKindDrafts
	case hasAttribute(attributes, goimap.TrashAttr):
		return enum.FolderKindTrash
	case hasAttribute(attributes, goimap.JunkAttr):
		return enum.FolderKindSpam
	}

	switch strings.ToUpper(name) {
	case "INBOX":
		return enum.FolderKindInbox
	case "SENT", "SENT ITEMS", "SENT MESSAGES":
		return enum.FolderKindSent
	case "DRAFTS":
		return enum.FolderKindDrafts
	case "TRASH", "DELETED ITEMS":
		return enum.FolderKindTrash
	case "JUNK", "SPAM":
		return enum.FolderKindSpam
	}
	return enum.FolderKindCustom
}

func displayName(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	parts := strings.Split(path, delimiter)
	return parts[len(parts)-1]
}
