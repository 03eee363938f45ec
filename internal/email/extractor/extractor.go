// Package extractor turns Gmail-shaped message payloads into canonical searchable text.
// Everything here is pure: no I/O, no shared state.
package extractor

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	emaildomain "mailrecall-backend/internal/email/domain"

	"google.golang.org/api/gmail/v1"
)

const (
	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// Extract returns the canonical content of msg. It never fails: absent fields
// resolve to their defaults and an unreadable body resolves to the snippet or "".
func Extract(msg *gmail.Message) emaildomain.EmailContent {
	content := emaildomain.EmailContent{
		Subject: emaildomain.DefaultSubject,
		Headers: map[string]string{},
	}
	if msg == nil {
		return content
	}

	if msg.Payload != nil {
		content.Headers = headerMap(msg.Payload.Headers)
	}
	if subject := content.Headers["subject"]; subject != "" {
		content.Subject = subject
	}
	content.FromHeader = content.Headers["from"]
	content.ToHeader = content.Headers["to"]
	content.DateHeader = content.Headers["date"]
	content.MessageID = content.Headers["message-id"]

	content.Body, content.BodyIsHTML = resolveBody(msg)
	return content
}

// GetHeader looks up name case-insensitively; the first matching header wins.
func GetHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if header != nil && strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func headerMap(headers []*gmail.MessagePartHeader) map[string]string {
	m := make(map[string]string, len(headers))
	for _, header := range headers {
		if header == nil {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(header.Name))
		if key == "" {
			continue
		}
		if _, seen := m[key]; !seen {
			m[key] = header.Value
		}
	}
	return m
}

// resolveBody applies the ordered fallback: plain part, html part, single-part body, snippet.
func resolveBody(msg *gmail.Message) (string, bool) {
	payload := msg.Payload
	if payload != nil && len(payload.Parts) > 0 {
		if body, ok := findPart(payload.Parts, mimeTextPlain); ok {
			return body, false
		}
		if body, ok := findPart(payload.Parts, mimeTextHTML); ok {
			return body, true
		}
	}

	if payload != nil && payload.Body != nil && payload.Body.Data != "" {
		if body, err := DecodeBase64URL(payload.Body.Data); err == nil && body != "" {
			return body, mediaType(payload.MimeType) == mimeTextHTML
		}
	}

	return msg.Snippet, false
}

// findPart walks parts depth-first and returns the first decodable leaf of the wanted type.
func findPart(parts []*gmail.MessagePart, want string) (string, bool) {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if mediaType(part.MimeType) == want && part.Body != nil && part.Body.Data != "" {
			if body, err := DecodeBase64URL(part.Body.Data); err == nil && body != "" {
				return body, true
			}
		}
		if len(part.Parts) > 0 {
			if body, ok := findPart(part.Parts, want); ok {
				return body, true
			}
		}
	}
	return "", false
}

func mediaType(mimeType string) string {
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

var base64URLFixer = strings.NewReplacer("-", "+", "_", "/", "\r", "", "\n", "", " ", "")

// DecodeBase64URL decodes a URL-safe, possibly unpadded base64 payload into text.
func DecodeBase64URL(data string) (string, error) {
	std := base64URLFixer.Replace(data)
	std = strings.TrimRight(std, "=")
	if pad := (4 - len(std)%4) % 4; pad > 0 {
		std += strings.Repeat("=", pad)
	}
	raw, err := base64.StdEncoding.DecodeString(std)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return strings.ToValidUTF8(string(raw), "�"), nil
	}
	return string(raw), nil
}
