package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/erosenberg/mailassist/internal/message"
)

func TestStripSignature(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		marker string
		want   string
	}{
		{
			name:   "marker with trailing space",
			body:   "Hello\n\n-- \nJohn\nsite.com",
			marker: "--",
			want:   "Hello\n\n",
		},
		{
			name:   "bare marker",
			body:   "Thanks!\n--\nJohn",
			marker: "--",
			want:   "Thanks!\n",
		},
		{
			name:   "no marker",
			body:   "Hello there,\n\nsee you soon.",
			marker: "--",
			want:   "Hello there,\n\nsee you soon.",
		},
		{
			name:   "marker on first line",
			body:   "--\neverything is signature",
			marker: "--",
			want:   "",
		},
		{
			name:   "dashes inside a line do not match",
			body:   "a -- b\nc",
			marker: "--",
			want:   "a -- b\nc",
		},
		{
			name:   "empty marker disables stripping",
			body:   "Hello\n--\nJohn",
			marker: "",
			want:   "Hello\n--\nJohn",
		},
		{
			name:   "empty body",
			body:   "",
			marker: "--",
			want:   "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripSignature(tc.body, tc.marker); got != tc.want {
				t.Errorf("StripSignature(%q, %q) = %q, want %q",
					tc.body, tc.marker, got, tc.want)
			}
		})
	}
}

func TestDocument(t *testing.T) {
	msg := &message.Message{
		ID:   message.ID{PermID: "m1"},
		Body: "Hello\n\n-- \nJohn\nsite.com",
	}
	if got, want := Document(msg, "--"), "Hello"; got != want {
		t.Errorf("Document() = %q, want %q", got, want)
	}
	if got, want := DocumentName(msg), "sent-m1.txt"; got != want {
		t.Errorf("DocumentName() = %q, want %q", got, want)
	}
}

func TestReplySubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
	}{
		{"Invoice question", "Re: Invoice question"},
		{"Re: Invoice question", "Re: Invoice question"},
		{"RE: shouting", "RE: shouting"},
		{"", "Re: (no subject)"},
	}
	for _, tc := range cases {
		if got := ReplySubject(tc.subject); got != tc.want {
			t.Errorf("ReplySubject(%q) = %q, want %q", tc.subject, got, tc.want)
		}
	}
}

func TestReplyPromptThreadContext(t *testing.T) {
	at := func(min int) time.Time {
		return time.Date(2025, 6, 1, 12, min, 0, 0, time.UTC)
	}
	msg := &message.Message{
		ID:       message.ID{PermID: "m4", ThreadID: "t1"},
		From:     "alice@example.com",
		Subject:  "Plans",
		Body:     "Are we still on?\n-- \nAlice",
		Received: at(40),
	}
	thread := []*message.Message{
		{ID: message.ID{PermID: "m1", ThreadID: "t1"}, From: "alice@example.com", Body: "first", Received: at(10)},
		{ID: message.ID{PermID: "m2", ThreadID: "t1"}, From: "me@example.com", Body: "second", Received: at(20)},
		{ID: message.ID{PermID: "m3", ThreadID: "t1"}, From: "alice@example.com", Body: "third", Received: at(30)},
		msg,
	}

	got := ReplyPrompt(msg, thread, "--")

	if !strings.Contains(got, "Are we still on?") {
		t.Errorf("prompt missing candidate body:\n%s", got)
	}
	if strings.Contains(got, "Alice") {
		t.Errorf("prompt retains signature block:\n%s", got)
	}
	// Context is most recent first.
	third := strings.Index(got, "third")
	second := strings.Index(got, "second")
	first := strings.Index(got, "first")
	if third < 0 || second < 0 || first < 0 {
		t.Fatalf("prompt missing thread context:\n%s", got)
	}
	if !(third < second && second < first) {
		t.Errorf("thread context not most-recent-first:\n%s", got)
	}
}

func TestReplyPromptCapsContext(t *testing.T) {
	msg := &message.Message{
		ID:       message.ID{PermID: "m9", ThreadID: "t1"},
		Body:     "latest",
		Received: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
	}
	var thread []*message.Message
	for i := 0; i < 6; i++ {
		thread = append(thread, &message.Message{
			ID:       message.ID{PermID: string(rune('a' + i)), ThreadID: "t1"},
			Body:     "older",
			Received: time.Date(2025, 6, 1, 12, i, 0, 0, time.UTC),
		})
	}
	got := ReplyPrompt(msg, thread, "--")
	if n := strings.Count(got, "older"); n != maxThreadContext {
		t.Errorf("prompt quotes %d prior messages, want %d:\n%s", n, maxThreadContext, got)
	}
}

func TestReplyBody(t *testing.T) {
	got := ReplyBody("Sounds good!\n\n-- \nYour AI", "--", "-- \nJohn\nsite.com")
	want := "Sounds good!\n\n-- \nJohn\nsite.com"
	if got != want {
		t.Errorf("ReplyBody() = %q, want %q", got, want)
	}

	if got := ReplyBody("Plain answer", "--", ""); got != "Plain answer" {
		t.Errorf("ReplyBody() without signature = %q, want %q", got, "Plain answer")
	}
}
