package imap

import (
	"strings"
	"testing"
	"time"

	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/extractor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartRaw = "From: =?UTF-8?Q?Ren=C3=A9?= <rene@example.com>\r\n" +
	"To: team@example.com\r\n" +
	"Subject: =?UTF-8?B?UmFwcG9ydCBtZW5zdWVs?=\r\n" +
	"Message-ID: <abc@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=iso-8859-1\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Caf=E9 budget is ready.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Café <b>budget</b> is ready.</p>\r\n" +
	"--b1--\r\n"

func TestToGmailMessage_Multipart(t *testing.T) {
	received := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	msg, err := ToGmailMessage("INBOX:42", strings.NewReader(multipartRaw), []string{`\Seen`}, received)
	require.NoError(t, err)

	assert.Equal(t, "INBOX:42", msg.Id)
	assert.Equal(t, received.UnixMilli(), msg.InternalDate)
	assert.Empty(t, msg.LabelIds)
	require.NotNil(t, msg.Payload)
	assert.Equal(t, "multipart/alternative", msg.Payload.MimeType)
	require.Len(t, msg.Payload.Parts, 2)
	assert.Equal(t, "text/plain", msg.Payload.Parts[0].MimeType)
	assert.Equal(t, "text/html", msg.Payload.Parts[1].MimeType)

	content := extractor.Extract(msg)
	assert.Equal(t, "Rapport mensuel", content.Subject)
	assert.Equal(t, "René <rene@example.com>", content.FromHeader)
	assert.Equal(t, "team@example.com", content.ToHeader)
	assert.Equal(t, "<abc@example.com>", content.MessageID)
	assert.Equal(t, "Café budget is ready.", strings.TrimSpace(content.Body))
	assert.False(t, content.BodyIsHTML)
}

func TestToGmailMessage_SinglePartUnread(t *testing.T) {
	raw := "Subject: Hello\r\nContent-Type: text/html\r\n\r\n<div>Hi <i>there</i></div>"

	msg, err := ToGmailMessage("Archive:7", strings.NewReader(raw), nil, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"UNREAD"}, msg.LabelIds)

	summary := summaryFromMessage(msg)
	assert.Equal(t, "Hello", summary.Subject)
	assert.Equal(t, "Hi there", summary.Preview)
	assert.False(t, summary.IsRead)
}

func TestSummaryPreviewTruncates(t *testing.T) {
	raw := "Subject: Long\r\n\r\n" + strings.Repeat("ab ", 150)

	msg, err := ToGmailMessage("INBOX:1", strings.NewReader(raw), []string{`\Seen`}, time.Now())
	require.NoError(t, err)

	summary := summaryFromMessage(msg)
	assert.Len(t, []rune(summary.Preview), 200)
	assert.True(t, summary.IsRead)
}

func TestParseEmailID(t *testing.T) {
	tests := []struct {
		id      string
		mailbox string
		uid     uint32
		wantErr bool
	}{
		{id: "INBOX:42", mailbox: "INBOX", uid: 42},
		{id: "17", mailbox: "INBOX", uid: 17},
		{id: "Work:Projects:9", mailbox: "Work:Projects", uid: 9},
		{id: ":5", wantErr: true},
		{id: "INBOX:abc", wantErr: true},
		{id: "INBOX:0", wantErr: true},
		{id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			mailbox, uid, err := ParseEmailID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, emaildomain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mailbox, mailbox)
			assert.Equal(t, tt.uid, uid)
		})
	}
}
