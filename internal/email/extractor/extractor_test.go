package extractor

import (
	"encoding/base64"
	"strings"
	"testing"

	emaildomain "mailrecall-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func leaf(mimeType, text string) *gmail.MessagePart {
	return &gmail.MessagePart{MimeType: mimeType, Body: &gmail.MessagePartBody{Data: b64(text)}}
}

func container(mimeType string, parts ...*gmail.MessagePart) *gmail.MessagePart {
	return &gmail.MessagePart{MimeType: mimeType, Body: &gmail.MessagePartBody{}, Parts: parts}
}

func TestExtract_NilMessage(t *testing.T) {
	content := Extract(nil)

	assert.Equal(t, emaildomain.DefaultSubject, content.Subject)
	assert.Empty(t, content.FromHeader)
	assert.Empty(t, content.ToHeader)
	assert.Empty(t, content.DateHeader)
	assert.Empty(t, content.MessageID)
	assert.Empty(t, content.Body)
	assert.NotNil(t, content.Headers)
}

func TestExtract_Headers(t *testing.T) {
	msg := &gmail.Message{
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "subject", Value: "Quarterly report"},
				{Name: "FROM", Value: "Alice <alice@example.com>"},
				{Name: "To", Value: "bob@example.com"},
				{Name: "Date", Value: "Mon, 01 Jan 2024 10:00:00 +0000"},
				{Name: "Message-ID", Value: "<abc@example.com>"},
				{Name: "Subject", Value: "Duplicate subject"},
			},
			Body: &gmail.MessagePartBody{Data: b64("hello")},
		},
	}

	content := Extract(msg)

	assert.Equal(t, "Quarterly report", content.Subject, "first duplicate header wins")
	assert.Equal(t, "Alice <alice@example.com>", content.FromHeader)
	assert.Equal(t, "bob@example.com", content.ToHeader)
	assert.Equal(t, "Mon, 01 Jan 2024 10:00:00 +0000", content.DateHeader)
	assert.Equal(t, "<abc@example.com>", content.MessageID)
	assert.Equal(t, "Quarterly report", content.Header("SUBJECT"))
	assert.Equal(t, content.Header("Subject"), content.Header("subject"))
}

func TestExtract_MissingSubjectUsesDefault(t *testing.T) {
	msg := &gmail.Message{Payload: &gmail.MessagePart{
		Headers: []*gmail.MessagePartHeader{{Name: "Subject", Value: ""}},
	}}

	assert.Equal(t, emaildomain.DefaultSubject, Extract(msg).Subject)
}

func TestExtract_PrefersPlainTextAnywhereInTree(t *testing.T) {
	msg := &gmail.Message{
		Payload: container("multipart/mixed",
			container("multipart/alternative",
				leaf("text/html", "<p>html version</p>"),
				container("multipart/related",
					leaf("text/plain; charset=UTF-8", "plain version"),
				),
			),
		),
	}

	content := Extract(msg)

	assert.Equal(t, "plain version", content.Body)
	assert.False(t, content.BodyIsHTML)
}

func TestExtract_DepthFirstFirstPlainWins(t *testing.T) {
	msg := &gmail.Message{
		Payload: container("multipart/mixed",
			container("multipart/alternative",
				leaf("text/plain", "nested first"),
			),
			leaf("text/plain", "sibling second"),
		),
	}

	assert.Equal(t, "nested first", Extract(msg).Body)
}

func TestExtract_HTMLOnlyIsNotStripped(t *testing.T) {
	msg := &gmail.Message{
		Payload: container("multipart/alternative",
			leaf("application/pdf", "%PDF"),
			leaf("TEXT/HTML", "<p>Hi&nbsp;<b>there</b></p>"),
		),
	}

	content := Extract(msg)

	assert.Equal(t, "<p>Hi&nbsp;<b>there</b></p>", content.Body)
	assert.True(t, content.BodyIsHTML)
}

func TestExtract_SkipsEmptyPlainPart(t *testing.T) {
	msg := &gmail.Message{
		Payload: container("multipart/alternative",
			&gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{AttachmentId: "att-1"}},
			leaf("text/html", "<i>only html has data</i>"),
		),
	}

	content := Extract(msg)

	assert.Equal(t, "<i>only html has data</i>", content.Body)
	assert.True(t, content.BodyIsHTML)
}

func TestExtract_SinglePartBody(t *testing.T) {
	msg := &gmail.Message{
		Snippet: "snippet text",
		Payload: leaf("text/plain", "direct body"),
	}

	assert.Equal(t, "direct body", Extract(msg).Body)
}

func TestExtract_MultipartWithoutTextFallsBackToSnippet(t *testing.T) {
	msg := &gmail.Message{
		Snippet: "preview from provider",
		Payload: container("multipart/mixed", leaf("image/png", "binary")),
	}

	assert.Equal(t, "preview from provider", Extract(msg).Body)
}

func TestExtract_NoPartsNoBodyUsesSnippet(t *testing.T) {
	msg := &gmail.Message{Snippet: "just the snippet", Payload: &gmail.MessagePart{}}

	assert.Equal(t, "just the snippet", Extract(msg).Body)
}

func TestExtract_EmptyEverythingYieldsEmptyBody(t *testing.T) {
	msg := &gmail.Message{Payload: &gmail.MessagePart{}}

	content := Extract(msg)

	assert.Equal(t, "", content.Body)
	assert.False(t, content.BodyIsHTML)
}

func TestExtract_UndecodableLeafIsSkipped(t *testing.T) {
	msg := &gmail.Message{
		Payload: container("multipart/alternative",
			&gmail.MessagePart{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "!!!not base64!!!"}},
			leaf("text/plain", "second plain"),
		),
	}

	assert.Equal(t, "second plain", Extract(msg).Body)
}

func TestDecodeBase64URL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no padding needed", input: b64("abc"), want: "abc"},
		{name: "one pad", input: b64("ab"), want: "ab"},
		{name: "two pads", input: b64("a"), want: "a"},
		{name: "url alphabet", input: base64.RawURLEncoding.EncodeToString([]byte{0xfb, 0xff, 0xfe}), want: "�"},
		{name: "already padded", input: base64.URLEncoding.EncodeToString([]byte("hello")), want: "hello"},
		{name: "unicode", input: b64("Xin chào thế giới"), want: "Xin chào thế giới"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64URL(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeBase64URL_Invalid(t *testing.T) {
	_, err := DecodeBase64URL("a")
	assert.Error(t, err)
}

func TestGetHeader(t *testing.T) {
	headers := []*gmail.MessagePartHeader{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "content-type", Value: "text/html"},
	}

	assert.Equal(t, "text/plain", GetHeader(headers, "CONTENT-TYPE"))
	assert.Equal(t, "", GetHeader(headers, "X-Missing"))
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{name: "example", html: "<p>Hi&nbsp;<b>there</b></p>", want: "Hi there"},
		{name: "style and script removed with content", html: "<style>p{color:red}</style><SCRIPT type=\"x\">alert(1)</SCRIPT>Body", want: "Body"},
		{name: "multiline style", html: "<style>\n.a{}\n</style>\n<div>text</div>\n", want: "text"},
		{name: "entities", html: "&lt;tag&gt; &amp; &quot;q&quot; &#39;s", want: `<tag> & "q" 's`},
		{name: "no double decode", html: "&amp;lt;", want: "&lt;"},
		{name: "plain text untouched", html: "  plain  ", want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkup(tt.html))
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(0)

	t.Run("subject and body", func(t *testing.T) {
		got := b.Build(emaildomain.EmailContent{Subject: "Invoice", Body: "Please  pay\n\nsoon"})
		assert.Equal(t, "Subject: Invoice\n\nBody: Please pay soon", got)
	})

	t.Run("html body stripped", func(t *testing.T) {
		got := b.Build(emaildomain.EmailContent{Subject: "Hi", Body: "<p>Hi&nbsp;<b>there</b></p>", BodyIsHTML: true})
		assert.Equal(t, "Subject: Hi\n\nBody: Hi there", got)
	})

	t.Run("nothing to embed", func(t *testing.T) {
		assert.Equal(t, "", b.Build(emaildomain.EmailContent{}))
		assert.Equal(t, "", b.Build(emaildomain.EmailContent{Subject: emaildomain.DefaultSubject, Body: "   "}))
	})

	t.Run("body only", func(t *testing.T) {
		got := b.Build(emaildomain.EmailContent{Subject: emaildomain.DefaultSubject, Body: "content"})
		assert.Equal(t, "Body: content", got)
	})

	t.Run("subject only", func(t *testing.T) {
		assert.Equal(t, "Subject: Lunch", b.Build(emaildomain.EmailContent{Subject: "Lunch"}))
	})

	t.Run("deterministic", func(t *testing.T) {
		c := emaildomain.EmailContent{Subject: "Same", Body: "input"}
		assert.Equal(t, b.Build(c), b.Build(c))
	})
}

func TestBuilder_Truncates(t *testing.T) {
	b := NewBuilder(20)

	got := b.Build(emaildomain.EmailContent{Subject: "Long", Body: strings.Repeat("é", 100)})

	assert.Equal(t, 20, len([]rune(got)))
	assert.True(t, strings.HasPrefix(got, "Subject: Long"))
}

func TestExtractThenBuild(t *testing.T) {
	msg := &gmail.Message{
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers:  []*gmail.MessagePartHeader{{Name: "Subject", Value: "Team sync"}},
			Parts: []*gmail.MessagePart{
				leaf("text/html", "<style>.x{}</style><p>Meeting at <b>3pm</b></p>"),
			},
		},
	}

	got := NewBuilder(0).Build(Extract(msg))

	assert.Equal(t, "Subject: Team sync\n\nBody: Meeting at 3pm", got)
}
