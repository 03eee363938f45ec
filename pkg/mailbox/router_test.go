package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	authdomain "mailrecall-backend/internal/auth/domain"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/crypto"
	gmailsvc "mailrecall-backend/pkg/gmail"
	"mailrecall-backend/pkg/imap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
)

const testKey = "test-encryption-key"

type fakeCreds struct {
	creds   map[string]*authdomain.MailboxCredential
	err     error
	updated []string
}

func (f *fakeCreds) FindByOwner(ctx context.Context, ownerID string) (*authdomain.MailboxCredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.creds[ownerID], nil
}

func (f *fakeCreds) UpdateTokens(ctx context.Context, ownerID, accessToken, refreshToken string, expiry time.Time) error {
	f.updated = append(f.updated, ownerID+"="+accessToken)
	return nil
}

type fakeGmail struct {
	lastToken *oauth2.Token
	refreshTo string
}

func (f *fakeGmail) GetMessage(ctx context.Context, token *oauth2.Token, emailID string, onTokenRefresh gmailsvc.TokenUpdateFunc) (*gmail.Message, error) {
	f.lastToken = token
	if f.refreshTo != "" {
		_ = onTokenRefresh(&oauth2.Token{AccessToken: f.refreshTo})
	}
	return &gmail.Message{Id: "gmail:" + emailID}, nil
}

func (f *fakeGmail) GetSummary(ctx context.Context, token *oauth2.Token, emailID string, onTokenRefresh gmailsvc.TokenUpdateFunc) (*emaildomain.MessageSummary, error) {
	return &emaildomain.MessageSummary{Subject: "gmail " + emailID}, nil
}

type fakeIMAP struct {
	lastAccount imap.Account
}

func (f *fakeIMAP) GetMessage(ctx context.Context, acct imap.Account, emailID string) (*gmail.Message, error) {
	f.lastAccount = acct
	return &gmail.Message{Id: "imap:" + emailID}, nil
}

func (f *fakeIMAP) GetSummary(ctx context.Context, acct imap.Account, emailID string) (*emaildomain.MessageSummary, error) {
	f.lastAccount = acct
	return &emaildomain.MessageSummary{Subject: "imap " + emailID}, nil
}

func newTestRouter(t *testing.T) (*Router, *fakeCreds, *fakeGmail, *fakeIMAP) {
	t.Helper()
	sealed, err := crypto.Encrypt("s3cret", testKey)
	require.NoError(t, err)

	creds := &fakeCreds{creds: map[string]*authdomain.MailboxCredential{
		"g-owner": {OwnerID: "g-owner", Provider: authdomain.ProviderGoogle, AccessToken: "at", RefreshToken: "rt"},
		"i-owner": {OwnerID: "i-owner", Provider: authdomain.ProviderIMAP, IMAPServer: "imap.example.com", IMAPPort: 993, IMAPUsername: "me", IMAPPassword: sealed},
		"x-owner": {OwnerID: "x-owner", Provider: "exchange"},
	}}
	g, i := &fakeGmail{}, &fakeIMAP{}
	return NewRouter(creds, g, i, testKey, nil), creds, g, i
}

func TestRouter_Fetch(t *testing.T) {
	router, creds, g, i := newTestRouter(t)
	ctx := context.Background()

	g.refreshTo = "new-at"
	msg, err := router.Fetch(ctx, "g-owner", "m1")
	require.NoError(t, err)
	assert.Equal(t, "gmail:m1", msg.Id)
	assert.Equal(t, "rt", g.lastToken.RefreshToken)
	assert.Equal(t, []string{"g-owner=new-at"}, creds.updated)

	msg, err = router.Fetch(ctx, "i-owner", "INBOX:4")
	require.NoError(t, err)
	assert.Equal(t, "imap:INBOX:4", msg.Id)
	assert.Equal(t, imap.Account{Server: "imap.example.com", Port: 993, Username: "me", Password: "s3cret"}, i.lastAccount)
}

func TestRouter_GetSummary(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	s, err := router.GetSummary(context.Background(), "g-owner", "m1")
	require.NoError(t, err)
	assert.Equal(t, "gmail m1", s.Subject)

	s, err = router.GetSummary(context.Background(), "i-owner", "INBOX:1")
	require.NoError(t, err)
	assert.Equal(t, "imap INBOX:1", s.Subject)
}

func TestRouter_Errors(t *testing.T) {
	router, creds, _, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := router.Fetch(ctx, "nobody", "m1")
	assert.ErrorIs(t, err, emaildomain.ErrNotFound)

	_, err = router.GetSummary(ctx, "x-owner", "m1")
	assert.ErrorIs(t, err, emaildomain.ErrNotFound)

	creds.creds["i-owner"].IMAPPassword = "not-encrypted"
	_, err = router.Fetch(ctx, "i-owner", "INBOX:1")
	assert.ErrorIs(t, err, emaildomain.ErrConfiguration)

	creds.err = errors.New("db down")
	_, err = router.Fetch(ctx, "g-owner", "m1")
	assert.ErrorIs(t, err, emaildomain.ErrDependency)
}
