package domain

import "strings"

// DefaultSubject is used when a message carries no Subject header.
const DefaultSubject = "No Subject"

// EmailContent is the canonical searchable text extracted from one provider message.
// It is produced fresh per extraction and never mutated afterwards.
type EmailContent struct {
	Subject    string
	FromHeader string
	ToHeader   string
	DateHeader string
	MessageID  string
	Body       string
	// BodyIsHTML reports that Body came from a text/html part and still contains markup.
	BodyIsHTML bool
	// Headers maps lowercased header names to the first value seen.
	Headers map[string]string
}

// Header returns the value for name, case-insensitively.
func (c EmailContent) Header(name string) string {
	return c.Headers[strings.ToLower(name)]
}
