package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/extractor"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const unreadLabel = "UNREAD"

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc func(token *oauth2.Token) error

type Service struct {
	clientID     string
	clientSecret string
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		// Failures are reported by the callback; the fresh token is still usable.
		_ = s.callback(t)
	}
	return t, nil
}

func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// GetGmailService creates Gmail service with user's token
func (s *Service) GetGmailService(ctx context.Context, token *oauth2.Token, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token.TokenType = "Bearer"

	// Without a known expiry, refresh once if we can.
	if token.Expiry.IsZero() && token.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	// Wrap token source to detect refreshes
	wrappedSource := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w: %w", emaildomain.ErrDependency, err)
	}

	return srv, nil
}

// GetMessage returns the full payload tree of one message.
func (s *Service) GetMessage(ctx context.Context, token *oauth2.Token, emailID string, onTokenRefresh TokenUpdateFunc) (*gmail.Message, error) {
	srv, err := s.GetGmailService(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", emailID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classifyError(emailID, err)
	}
	return msg, nil
}

// GetSummary returns the live metadata used to hydrate a search hit.
func (s *Service) GetSummary(ctx context.Context, token *oauth2.Token, emailID string, onTokenRefresh TokenUpdateFunc) (*emaildomain.MessageSummary, error) {
	srv, err := s.GetGmailService(ctx, token, onTokenRefresh)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get("me", emailID).
		Format("metadata").
		MetadataHeaders("Subject", "From").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(emailID, err)
	}
	return summaryFromMessage(msg), nil
}

func summaryFromMessage(msg *gmail.Message) *emaildomain.MessageSummary {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	subject := extractor.GetHeader(headers, "Subject")
	if subject == "" {
		subject = emaildomain.DefaultSubject
	}

	return &emaildomain.MessageSummary{
		Subject:   subject,
		Preview:   msg.Snippet,
		From:      extractor.GetHeader(headers, "From"),
		Timestamp: time.UnixMilli(msg.InternalDate).UTC(),
		IsRead:    !hasLabel(msg.LabelIds, unreadLabel),
	}
}

// classifyError maps Gmail API failures onto the domain error kinds.
func classifyError(emailID string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("gmail message %s: %w", emailID, emaildomain.ErrNotFound)
		case http.StatusBadRequest:
			return emaildomain.NewValidationError("email_id", apiErr.Message)
		}
	}
	return fmt.Errorf("gmail message %s: %w: %w", emailID, emaildomain.ErrDependency, err)
}

func hasLabel(labels []string, labelID string) bool {
	for _, l := range labels {
		if l == labelID {
			return true
		}
	}
	return false
}
