package extractor

import (
	"strings"
	"unicode/utf8"

	emaildomain "mailrecall-backend/internal/email/domain"
)

// DefaultMaxEmbedChars bounds the text handed to the embedding provider.
const DefaultMaxEmbedChars = 10000

// Builder produces the single normalised string embedded per email.
type Builder struct {
	maxChars int
}

// NewBuilder returns a Builder truncating at maxChars runes (DefaultMaxEmbedChars when <= 0).
func NewBuilder(maxChars int) *Builder {
	if maxChars <= 0 {
		maxChars = DefaultMaxEmbedChars
	}
	return &Builder{maxChars: maxChars}
}

// Build concatenates subject and body. It returns "" when there is nothing to embed,
// i.e. both the subject (ignoring the "No Subject" placeholder) and the body are empty.
func (b *Builder) Build(content emaildomain.EmailContent) string {
	subject := collapseSpaces(content.Subject)
	if subject == emaildomain.DefaultSubject {
		subject = ""
	}

	body := content.Body
	if content.BodyIsHTML {
		body = StripMarkup(body)
	}
	body = collapseSpaces(body)

	var text string
	switch {
	case subject == "" && body == "":
		return ""
	case body == "":
		text = "Subject: " + subject
	case subject == "":
		text = "Body: " + body
	default:
		text = "Subject: " + subject + "\n\nBody: " + body
	}

	return truncateRunes(text, b.maxChars)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
