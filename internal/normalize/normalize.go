// Copyright 2025 The mailassist Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package normalize converts raw mailbox messages into the plain text
// representations the assistant consumes: a signature-stripped body
// for indexing, and a reply prompt with thread context for drafting.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/erosenberg/mailassist/internal/message"
)

// maxThreadContext bounds how many prior thread messages are quoted
// in a reply prompt.
const maxThreadContext = 3

// StripSignature truncates body at the first signature marker line,
// removing the marker and everything after it.  A line matches the
// marker when it equals the marker after trailing whitespace is
// dropped, so the conventional "-- " delimiter matches a "--" marker.
// A body without the marker is returned unchanged; that is not an
// error.
func StripSignature(body, marker string) string {
	if marker == "" {
		return body
	}
	offset := 0
	rest := body
	for {
		line := rest
		nl := strings.IndexByte(rest, '\n')
		if nl >= 0 {
			line = rest[:nl]
		}
		if strings.TrimRight(line, " \t\r") == marker {
			return body[:offset]
		}
		if nl < 0 {
			return body
		}
		offset += nl + 1
		rest = rest[nl+1:]
	}
}

// Document produces the text uploaded to the knowledge store for a
// sent message: the body with the user's signature block removed and
// surrounding whitespace trimmed.
func Document(msg *message.Message, marker string) string {
	return strings.TrimSpace(StripSignature(msg.Body, marker))
}

// DocumentName names the uploaded file after the source message so a
// human inspecting the vector store can trace it back.
func DocumentName(msg *message.Message) string {
	return fmt.Sprintf("sent-%s.txt", msg.PermID)
}

// ReplyPrompt assembles the drafting prompt: the incoming message
// with its signature stripped, followed by up to maxThreadContext
// prior messages from the same thread, most recent first, so the
// assistant has conversational grounding.  The candidate message
// itself is excluded from the quoted context.
func ReplyPrompt(msg *message.Message, thread []*message.Message, marker string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "Subject: %s\n\n", msg.Subject)
	b.WriteString(strings.TrimSpace(StripSignature(msg.Body, marker)))

	prior := make([]*message.Message, 0, len(thread))
	for _, m := range thread {
		if m.PermID == msg.PermID {
			continue
		}
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		prior = append(prior, m)
	}
	sort.SliceStable(prior, func(i, j int) bool {
		return prior[i].Received.After(prior[j].Received)
	})
	if len(prior) > maxThreadContext {
		prior = prior[:maxThreadContext]
	}

	if len(prior) > 0 {
		b.WriteString("\n\nEarlier messages in this thread, most recent first:\n")
		for _, m := range prior {
			fmt.Fprintf(&b, "\n--- %s ---\n", m.From)
			b.WriteString(strings.TrimSpace(StripSignature(m.Body, marker)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ReplySubject derives the subject for a drafted reply.
func ReplySubject(subject string) string {
	if subject == "" {
		return "Re: (no subject)"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// ReplyBody prepares assistant output for the draft: the assistant's
// own attempt at a signature is stripped and the user's configured
// signature template is appended instead.
func ReplyBody(generated, marker, signature string) string {
	body := strings.TrimSpace(StripSignature(generated, marker))
	if signature != "" {
		body = body + "\n\n" + signature
	}
	return body
}
