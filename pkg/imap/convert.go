package imap

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/extractor"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"google.golang.org/api/gmail/v1"
)

const (
	defaultMailbox = "INBOX"
	previewRunes   = 200
	maxPartDepth   = 20
	unreadLabel    = "UNREAD"
	seenFlag       = `\Seen`
)

// ParseEmailID splits "<mailbox>:<uid>". A bare uid refers to INBOX.
func ParseEmailID(emailID string) (string, uint32, error) {
	mailbox, rawUID := defaultMailbox, emailID
	if i := strings.LastIndex(emailID, ":"); i >= 0 {
		mailbox, rawUID = emailID[:i], emailID[i+1:]
	}
	if mailbox == "" {
		return "", 0, emaildomain.NewValidationError("email_id", "mailbox must not be empty")
	}
	uid, err := strconv.ParseUint(rawUID, 10, 32)
	if err != nil || uid == 0 {
		return "", 0, emaildomain.NewValidationError("email_id", fmt.Sprintf("invalid uid %q", rawUID))
	}
	return mailbox, uint32(uid), nil
}

// ToGmailMessage parses a raw RFC 822 message into the payload tree the extractor reads.
// Transfer encodings and charsets are decoded; leaf bodies are URL-safe base64 encoded.
func ToGmailMessage(emailID string, raw io.Reader, flags []string, internalDate time.Time) (*gmail.Message, error) {
	entity, err := message.Read(raw)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parse message %s: %w", emailID, err)
	}

	payload, err := convertEntity(entity, 0)
	if err != nil {
		return nil, fmt.Errorf("convert message %s: %w", emailID, err)
	}

	msg := &gmail.Message{
		Id:           emailID,
		Payload:      payload,
		InternalDate: internalDate.UnixMilli(),
	}
	if !hasFlag(flags, seenFlag) {
		msg.LabelIds = []string{unreadLabel}
	}
	return msg, nil
}

func convertEntity(e *message.Entity, depth int) (*gmail.MessagePart, error) {
	part := &gmail.MessagePart{Headers: convertHeaders(e.Header)}

	mediaType, _, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	part.MimeType = mediaType

	if mr := e.MultipartReader(); mr != nil {
		if depth >= maxPartDepth {
			return part, nil
		}
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
				return nil, err
			}
			if child == nil {
				continue
			}
			converted, err := convertEntity(child, depth+1)
			if err != nil {
				return nil, err
			}
			part.Parts = append(part.Parts, converted)
		}
		return part, nil
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", mediaType, err)
	}
	part.Body = &gmail.MessagePartBody{
		Size: int64(len(body)),
		Data: base64.URLEncoding.EncodeToString(body),
	}
	return part, nil
}

func convertHeaders(h message.Header) []*gmail.MessagePartHeader {
	var headers []*gmail.MessagePartHeader
	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		headers = append(headers, &gmail.MessagePartHeader{Name: fields.Key(), Value: value})
	}
	return headers
}

// summaryFromMessage builds hydration metadata from a converted message.
func summaryFromMessage(msg *gmail.Message) *emaildomain.MessageSummary {
	content := extractor.Extract(msg)
	body := content.Body
	if content.BodyIsHTML {
		body = extractor.StripMarkup(body)
	}
	return &emaildomain.MessageSummary{
		Subject:   content.Subject,
		Preview:   preview(body),
		From:      content.FromHeader,
		Timestamp: time.UnixMilli(msg.InternalDate).UTC(),
		IsRead:    !slices.Contains(msg.LabelIds, unreadLabel),
	}
}

func preview(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) <= previewRunes {
		return body
	}
	return string([]rune(body)[:previewRunes])
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}
