package imap

import (
	"context"
	"errors"
	"net"
	"testing"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySelectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "dovecot nonexistent", err: errors.New("Mailbox doesn't exist: Archive"), want: emaildomain.ErrNotFound},
		{name: "gmail unknown mailbox", err: errors.New("Unknown Mailbox: Archive (Failure)"), want: emaildomain.ErrNotFound},
		{name: "no such mailbox", err: errors.New("No such mailbox"), want: emaildomain.ErrNotFound},
		{name: "connection closed", err: errors.New("imap: connection closed during command execution"), want: emaildomain.ErrDependency},
		{name: "server busy", err: errors.New("Server is busy, try again later"), want: emaildomain.ErrDependency},
		{name: "network failure", err: &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, want: emaildomain.ErrDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifySelectError("Archive", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "Archive")
		})
	}
	assert.NotErrorIs(t, classifySelectError("INBOX", errors.New("Server is busy")), emaildomain.ErrNotFound)
}

func TestGetMessage_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService().GetMessage(ctx, Account{Server: "127.0.0.1", Port: 1, Username: "u", Password: "p"}, "INBOX:7")
	require.Error(t, err)
	assert.ErrorIs(t, err, emaildomain.ErrDependency)
	assert.ErrorIs(t, err, context.Canceled)
}
