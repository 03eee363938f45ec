// Package mailbox routes message reads to the provider an owner connected.
package mailbox

import (
	"context"
	"fmt"
	"time"

	authdomain "mailrecall-backend/internal/auth/domain"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/pkg/crypto"
	gmailsvc "mailrecall-backend/pkg/gmail"
	"mailrecall-backend/pkg/imap"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
)

// CredentialStore is the subset of the credential repository the router needs.
type CredentialStore interface {
	FindByOwner(ctx context.Context, ownerID string) (*authdomain.MailboxCredential, error)
	UpdateTokens(ctx context.Context, ownerID, accessToken, refreshToken string, expiry time.Time) error
}

// GmailClient reads one Gmail message with the owner's OAuth token.
type GmailClient interface {
	GetMessage(ctx context.Context, token *oauth2.Token, emailID string, onTokenRefresh gmailsvc.TokenUpdateFunc) (*gmail.Message, error)
	GetSummary(ctx context.Context, token *oauth2.Token, emailID string, onTokenRefresh gmailsvc.TokenUpdateFunc) (*emaildomain.MessageSummary, error)
}

// IMAPClient reads one IMAP message with decrypted login details.
type IMAPClient interface {
	GetMessage(ctx context.Context, acct imap.Account, emailID string) (*gmail.Message, error)
	GetSummary(ctx context.Context, acct imap.Account, emailID string) (*emaildomain.MessageSummary, error)
}

// Router implements both the message and metadata sources on top of per-owner credentials.
type Router struct {
	creds         CredentialStore
	gmail         GmailClient
	imap          IMAPClient
	encryptionKey string
	logger        *zap.Logger
}

func NewRouter(creds CredentialStore, gmailClient GmailClient, imapClient IMAPClient, encryptionKey string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		creds:         creds,
		gmail:         gmailClient,
		imap:          imapClient,
		encryptionKey: encryptionKey,
		logger:        logger,
	}
}

func (r *Router) Fetch(ctx context.Context, ownerID, emailID string) (*gmail.Message, error) {
	cred, err := r.credential(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	switch cred.Provider {
	case authdomain.ProviderGoogle:
		return r.gmail.GetMessage(ctx, tokenFor(cred), emailID, r.onTokenRefresh(ctx, ownerID))
	case authdomain.ProviderIMAP:
		acct, err := r.imapAccount(cred)
		if err != nil {
			return nil, err
		}
		return r.imap.GetMessage(ctx, acct, emailID)
	default:
		return nil, unknownProvider(ownerID, cred.Provider)
	}
}

func (r *Router) GetSummary(ctx context.Context, ownerID, emailID string) (*emaildomain.MessageSummary, error) {
	cred, err := r.credential(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	switch cred.Provider {
	case authdomain.ProviderGoogle:
		return r.gmail.GetSummary(ctx, tokenFor(cred), emailID, r.onTokenRefresh(ctx, ownerID))
	case authdomain.ProviderIMAP:
		acct, err := r.imapAccount(cred)
		if err != nil {
			return nil, err
		}
		return r.imap.GetSummary(ctx, acct, emailID)
	default:
		return nil, unknownProvider(ownerID, cred.Provider)
	}
}

func (r *Router) credential(ctx context.Context, ownerID string) (*authdomain.MailboxCredential, error) {
	cred, err := r.creds.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load credential for %s: %w: %w", ownerID, emaildomain.ErrDependency, err)
	}
	if cred == nil {
		return nil, fmt.Errorf("no mailbox connected for %s: %w", ownerID, emaildomain.ErrNotFound)
	}
	return cred, nil
}

func (r *Router) imapAccount(cred *authdomain.MailboxCredential) (imap.Account, error) {
	password, err := crypto.Decrypt(cred.IMAPPassword, r.encryptionKey)
	if err != nil {
		return imap.Account{}, fmt.Errorf("decrypt imap password for %s: %w: %w", cred.OwnerID, emaildomain.ErrConfiguration, err)
	}
	return imap.Account{
		Server:   cred.IMAPServer,
		Port:     cred.IMAPPort,
		Username: cred.IMAPUsername,
		Password: password,
	}, nil
}

// onTokenRefresh persists refreshed OAuth tokens. It outlives ctx so a refresh
// observed at the end of a request is still stored.
func (r *Router) onTokenRefresh(ctx context.Context, ownerID string) gmailsvc.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		err := r.creds.UpdateTokens(context.WithoutCancel(ctx), ownerID, token.AccessToken, token.RefreshToken, token.Expiry)
		if err != nil {
			r.logger.Error("[Mailbox] Failed to store refreshed token", zap.String("owner_id", ownerID), zap.Error(err))
		}
		return err
	}
}

func tokenFor(cred *authdomain.MailboxCredential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.TokenExpiry,
	}
}

func unknownProvider(ownerID, provider string) error {
	return fmt.Errorf("owner %s has unsupported provider %q: %w", ownerID, provider, emaildomain.ErrNotFound)
}
