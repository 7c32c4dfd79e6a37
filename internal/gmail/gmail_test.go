package gmail

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	gmail_api "google.golang.org/api/gmail/v1"

	"github.com/erosenberg/mailassist/internal/message"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestBuildRawMessage(t *testing.T) {
	raw := buildRawMessage("alice@example.com", "Re: Plans", "Sounds good.")
	wantHeaders := []string{
		"To: alice@example.com\r\n",
		"Subject: Re: Plans\r\n",
		"MIME-Version: 1.0\r\n",
		`Content-Type: text/plain; charset="UTF-8"` + "\r\n",
	}
	for _, h := range wantHeaders {
		if !strings.Contains(raw, h) {
			t.Errorf("raw message missing header %q:\n%s", h, raw)
		}
	}
	if !strings.HasSuffix(raw, "\r\n\r\nSounds good.") {
		t.Errorf("raw message body not separated by blank line:\n%s", raw)
	}
}

func TestExtractBodyPrefersPlainText(t *testing.T) {
	payload := &gmail_api.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail_api.MessagePart{
			{
				MimeType: "text/html",
				Body:     &gmail_api.MessagePartBody{Data: b64("<p>hi<br>there</p>")},
			},
			{
				MimeType: "text/plain",
				Body:     &gmail_api.MessagePartBody{Data: b64("hi\nthere")},
			},
		},
	}
	if got, want := extractBody(payload), "hi\nthere"; got != want {
		t.Errorf("extractBody() = %q, want %q", got, want)
	}
}

func TestExtractBodyHTMLFallback(t *testing.T) {
	payload := &gmail_api.MessagePart{
		MimeType: "multipart/alternative",
		Parts: []*gmail_api.MessagePart{
			{
				MimeType: "text/html",
				Body:     &gmail_api.MessagePartBody{Data: b64("line one<br>line two<br/>line three")},
			},
		},
	}
	want := "line one\nline two\nline three"
	if got := extractBody(payload); got != want {
		t.Errorf("extractBody() = %q, want %q", got, want)
	}
}

func TestExtractBodyNestedParts(t *testing.T) {
	payload := &gmail_api.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail_api.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail_api.MessagePart{
					{
						MimeType: "text/plain",
						Body:     &gmail_api.MessagePartBody{Data: b64("nested body")},
					},
				},
			},
		},
	}
	if got, want := extractBody(payload), "nested body"; got != want {
		t.Errorf("extractBody() = %q, want %q", got, want)
	}
}

func TestExtractBodySinglePart(t *testing.T) {
	payload := &gmail_api.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail_api.MessagePartBody{Data: b64("top level body")},
	}
	if got, want := extractBody(payload), "top level body"; got != want {
		t.Errorf("extractBody() = %q, want %q", got, want)
	}
}

func TestParseMessage(t *testing.T) {
	raw := &gmail_api.Message{
		Id:           "m1",
		ThreadId:     "t1",
		LabelIds:     []string{"INBOX", "UNREAD"},
		InternalDate: 1748779200000, // 2025-06-01T12:00:00Z in ms
		Payload: &gmail_api.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail_api.MessagePartHeader{
				{Name: "From", Value: "alice@example.com"},
				{Name: "Subject", Value: "Plans"},
				{Name: "Date", Value: "Sun, 01 Jun 2025 12:00:00 +0000"},
			},
			Body: &gmail_api.MessagePartBody{Data: b64("hello")},
		},
	}
	got := parseMessage(raw)
	want := &message.Message{
		ID:       message.ID{PermID: "m1", ThreadID: "t1"},
		LabelIDs: []string{"INBOX", "UNREAD"},
		From:     "alice@example.com",
		Subject:  "Plans",
		Body:     "hello",
		Received: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseMessage() mismatch (-want +got):\n%s", diff)
	}
}
