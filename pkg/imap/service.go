// Package imap reads messages from IMAP mailboxes.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"google.golang.org/api/gmail/v1"
)

const defaultDialTimeout = 15 * time.Second

// Account holds decrypted IMAP login details.
type Account struct {
	Server   string
	Port     int
	Username string
	Password string
}

type Service struct {
	dialTimeout time.Duration
}

func NewService() *Service {
	return &Service{dialTimeout: defaultDialTimeout}
}

// GetMessage fetches "<mailbox>:<uid>" and converts it to the payload tree.
func (s *Service) GetMessage(ctx context.Context, acct Account, emailID string) (*gmail.Message, error) {
	mailbox, uid, err := ParseEmailID(emailID)
	if err != nil {
		return nil, err
	}

	c, err := s.connect(ctx, acct)
	if err != nil {
		return nil, err
	}
	defer c.Logout()
	// Closing the connection unblocks any command still waiting on the server.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if _, err := c.Select(mailbox, true); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("select %s: %w: %w", mailbox, emaildomain.ErrDependency, ctxErr)
		}
		return nil, classifySelectError(mailbox, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for m := range messages {
		if fetched == nil {
			fetched = m
		}
	}
	if err := <-done; err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("imap fetch %s: %w: %w", emailID, emaildomain.ErrDependency, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("imap message %s: %w", emailID, emaildomain.ErrNotFound)
	}

	body := fetched.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("imap message %s has no body: %w", emailID, emaildomain.ErrDependency)
	}
	return ToGmailMessage(emailID, body, fetched.Flags, fetched.InternalDate)
}

// GetSummary fetches the message and derives subject, sender, preview and read state.
func (s *Service) GetSummary(ctx context.Context, acct Account, emailID string) (*emaildomain.MessageSummary, error) {
	msg, err := s.GetMessage(ctx, acct, emailID)
	if err != nil {
		return nil, err
	}
	return summaryFromMessage(msg), nil
}

func (s *Service) connect(ctx context.Context, acct Account) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", acct.Server, acct.Port)
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: s.dialTimeout}}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w: %w", addr, emaildomain.ErrDependency, err)
	}
	c, err := client.New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("imap greeting %s: %w: %w", addr, emaildomain.ErrDependency, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(acct.Username, acct.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w: %w", emaildomain.ErrDependency, err)
	}
	return c, nil
}

// missingMailboxHints match the text of a NO reply to SELECT for an unknown mailbox.
// The client only exposes the reply text, so the [NONEXISTENT] code shows up here
// through the wording servers pair it with.
var missingMailboxHints = []string{
	"nonexistent",
	"doesn't exist",
	"does not exist",
	"unknown mailbox",
	"no such mailbox",
	"mailbox not found",
}

// classifySelectError maps a missing mailbox to ErrNotFound. Transport failures,
// timeouts and any other refusal are dependency errors.
func classifySelectError(mailbox string, err error) error {
	var netErr net.Error
	if !errors.As(err, &netErr) {
		text := strings.ToLower(err.Error())
		for _, hint := range missingMailboxHints {
			if strings.Contains(text, hint) {
				return fmt.Errorf("select %s: %w: %w", mailbox, emaildomain.ErrNotFound, err)
			}
		}
	}
	return fmt.Errorf("select %s: %w: %w", mailbox, emaildomain.ErrDependency, err)
}
