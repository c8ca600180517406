package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/mailcove/mailcove/interfaces"
	"github.com/mailcove/mailcove/internal/enum"
	coveerr "github.com/mailcove/mailcove/internal/errors"
	"github.com/mailcove/mailcove/internal/logger"
	"github.com/mailcove/mailcove/internal/models"
	"github.com/mailcove/mailcove/internal/tracing"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 30 * time.Second
	fetchTimeout   = 60 * time.Second
	logoutTimeout  = 5 * time.Second

	fetchBatchSize = 20
)

// Client is one account's IMAP connection. The connection opens lazily, is
// NOOP-verified before reuse and reconnects once when the server dropped it.
type Client struct {
	account  *models.Account
	accounts interfaces.AccountRepository
	tokens   interfaces.TokenManager
	log      logger.Logger

	mu       sync.Mutex
	conn     *client.Client
	selected string
	lastUsed time.Time
}

func NewClient(account *models.Account, accounts interfaces.AccountRepository, tokens interfaces.TokenManager, log logger.Logger) *Client {
	return &Client{
		account:  account,
		accounts: accounts,
		tokens:   tokens,
		log:      log,
	}
}

// connectLocked dials, optionally upgrades TLS and authenticates. Callers
// hold c.mu.
func (c *Client) connectLocked(ctx context.Context) (*client.Client, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Client.connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.account.ID)
	span.SetTag("server", c.account.ImapServer)
	span.SetTag("port", c.account.ImapPort)

	serverAddr := fmt.Sprintf("%s:%d", c.account.ImapServer, c.account.ImapPort)
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	var conn *client.Client
	var err error
	switch c.account.ImapSecurity {
	case enum.EmailSecurityTLS:
		tlsConfig := &tls.Config{ServerName: c.account.ImapServer}
		conn, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	case enum.EmailSecurityStartTLS:
		conn, err = client.DialWithDialer(dialer, serverAddr)
		if err == nil {
			err = conn.StartTLS(&tls.Config{ServerName: c.account.ImapServer})
		}
	default:
		conn, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, coveerr.Retryable(fmt.Errorf("failed to connect to %s: %w", serverAddr, err))
	}

	conn.Timeout = commandTimeout
	if err := c.login(ctx, conn); err != nil {
		conn.Logout()
		tracing.TraceErr(span, err)
		return nil, err
	}
	conn.Timeout = 0

	log.Printf("[%s] Connected and logged in to %s", c.account.ID, serverAddr)
	return conn, nil
}

func (c *Client) login(ctx context.Context, conn *client.Client) error {
	switch c.account.AuthKind {
	case enum.AuthKindOAuth2:
		token, err := c.tokens.AccessToken(ctx, c.account)
		if err != nil {
			return err
		}
		if err := conn.Authenticate(newXOAuth2Client(c.account.ImapUsername, token)); err != nil {
			if isConnectionError(err) {
				return coveerr.Retryable(err)
			}
			// The server rejected the bearer token; force a fresh one on the
			// next attempt.
			c.tokens.Invalidate(c.account.ID)
			return coveerr.ErrNotAuthenticated
		}
		return nil
	default:
		password, err := c.accounts.GetPassword(ctx, c.account.ID)
		if err != nil {
			return err
		}
		if err := conn.Login(c.account.ImapUsername, password); err != nil {
			if isConnectionError(err) {
				return coveerr.Retryable(err)
			}
			return coveerr.ErrNotAuthenticated
		}
		return nil
	}
}

// withConn runs fn with a live connection: an existing connection is verified
// with NOOP, a broken one is replaced once. When fn itself fails on a dropped
// connection the command is retried one time on a fresh connection.
func (c *Client) withConn(ctx context.Context, fn func(conn *client.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.liveConnLocked(ctx)
	if err != nil {
		return err
	}

	err = fn(conn)
	if err != nil && isConnectionError(err) {
		log.Printf("[%s] Connection dropped mid-command, reconnecting: %v", c.account.ID, err)
		c.dropLocked()
		conn, reconnectErr := c.liveConnLocked(ctx)
		if reconnectErr != nil {
			return reconnectErr
		}
		err = fn(conn)
	}
	c.lastUsed = time.Now()
	if err != nil && isConnectionError(err) {
		c.dropLocked()
		return coveerr.Retryable(err)
	}
	return err
}

func (c *Client) liveConnLocked(ctx context.Context) (*client.Client, error) {
	if c.conn != nil {
		if err := c.conn.Noop(); err == nil {
			return c.conn, nil
		}
		log.Printf("[%s] Existing connection is broken, reconnecting", c.account.ID)
		c.dropLocked()
	}

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.lastUsed = time.Now()
	return conn, nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Terminate()
		c.conn = nil
	}
	c.selected = ""
}

// selectFolder selects the folder unless it is already the active mailbox.
func (c *Client) selectFolder(conn *client.Client, folder string) error {
	if c.selected == folder {
		return nil
	}
	if _, err := conn.Select(folder, false); err != nil {
		if isConnectionError(err) {
			return err
		}
		c.selected = ""
		return coveerr.Protocol("SELECT", err.Error())
	}
	c.selected = folder
	return nil
}

// CloseIfIdle drops the connection when it has been unused past the threshold.
func (c *Client) CloseIfIdle(threshold time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || time.Since(c.lastUsed) < threshold {
		return
	}
	log.Printf("[%s] Closing idle connection", c.account.ID)
	c.logoutLocked()
}

// Close logs out with a timeout and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logoutLocked()
	return nil
}

func (c *Client) logoutLocked() {
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	c.selected = ""

	conn.Timeout = logoutTimeout
	done := make(chan error, 1)
	go func() {
		done <- conn.Logout()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[%s] Error during logout: %v", c.account.ID, err)
		} else {
			log.Printf("[%s] Logged out", c.account.ID)
		}
	case <-time.After(logoutTimeout):
		log.Printf("[%s] Logout timed out", c.account.ID)
		conn.Terminate()
	}
}
