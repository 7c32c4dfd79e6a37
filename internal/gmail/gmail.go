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

// Package gmail provides access to messages, threads and drafts
// stored in Google's Gmail system.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/erosenberg/mailassist/internal/message"
)

const (
	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsPerMessagesList = 1
	quotaUnitsPerMessagesGet  = 5
	quotaUnitsPerThreadsGet   = 10
	quotaUnitsPerDraftsCreate = 10
	quotaUnitsPerModify       = 5

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

// Well known system label identifiers.
const (
	LabelDraft  = "DRAFT"
	LabelUnread = "UNREAD"
)

var (
	// ErrUnauthorized indicates the cached credential was rejected
	// by the provider.  Not retried within a run.
	ErrUnauthorized = errors.New("gmail credentials rejected")

	// ErrDraftExists indicates a draft already exists on the
	// thread a draft was about to be written to.
	ErrDraftExists = errors.New("draft already exists for thread")

	ErrMessageNotFound = errors.New("gmail message not found")
)

// Service provides rate limited, circuit broken access to the Gmail
// API for a single account.
type Service struct {
	service *gmail_api.Service
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func New(ctx context.Context, client *http.Client, log zerolog.Logger) (*Service, error) {
	svc, err := gmail_api.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrap(err, "creating gmail service")
	}
	log = log.With().Str("component", "gmail").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return &Service{
		service: svc,
		limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
		breaker: breaker,
		log:     log,
	}, nil
}

// nonCircuitError shields client-side failures (4xx) from tripping
// the breaker; only server-side trouble should open it.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string { return e.err.Error() }

// call runs fn under the quota limiter and the circuit breaker and
// maps provider status codes onto the package sentinel errors.
func (s *Service) call(ctx context.Context, units int, fn func() error) error {
	if err := s.limiter.WaitN(ctx, units); err != nil {
		return err
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := errors.Cause(err).(*googleapi.Error); ok {
				switch apiErr.Code {
				case http.StatusTooManyRequests,
					http.StatusInternalServerError,
					http.StatusBadGateway,
					http.StatusServiceUnavailable:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})
	if nce, ok := err.(*nonCircuitError); ok {
		err = nce.err
	}
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := errors.Cause(err).(*googleapi.Error); ok {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return errors.Wrap(ErrUnauthorized, apiErr.Message)
		case http.StatusForbidden:
			if !strings.Contains(apiErr.Message, "Rate Limit") &&
				!strings.Contains(apiErr.Message, "rateLimitExceeded") {
				return errors.Wrap(ErrUnauthorized, apiErr.Message)
			}
		case http.StatusNotFound:
			return errors.Wrap(ErrMessageNotFound, apiErr.Message)
		}
	}
	return err
}

// ListLabeled returns the identifiers of every message carrying the
// given label, in the order the provider returns them.
func (s *Service) ListLabeled(ctx context.Context, labelID string) ([]message.ID, error) {
	req := s.service.Users.Messages.List("me").LabelIds(labelID)
	return s.collectList(ctx, req)
}

// ListInbox returns the identifiers of inbox messages, bounded below
// by after when it is non-zero.  The bound uses the provider's
// second-granularity after: query and is a performance hint, not a
// correctness guarantee; callers re-check eligibility per message.
func (s *Service) ListInbox(ctx context.Context, after time.Time) ([]message.ID, error) {
	q := "in:inbox"
	if !after.IsZero() {
		q = fmt.Sprintf("in:inbox after:%d", after.Unix())
	}
	req := s.service.Users.Messages.List("me").Q(q)
	return s.collectList(ctx, req)
}

func (s *Service) collectList(ctx context.Context, req *gmail_api.UsersMessagesListCall) ([]message.ID, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, err
	}
	var ids []message.ID
	err := req.Pages(ctx, func(page *gmail_api.ListMessagesResponse) (err error) {
		for _, m := range page.Messages {
			ids = append(ids, message.ID{PermID: m.Id, ThreadID: m.ThreadId})
		}
		s.log.Debug().
			Int("count", len(page.Messages)).
			Int("total", len(ids)).
			Msg("listed page of messages")
		if page.NextPageToken != "" {
			err = s.limiter.WaitN(ctx, quotaUnitsPerMessagesList)
		}
		return
	})
	if err != nil {
		return nil, classify(errors.Wrap(err, "unable to list messages"))
	}
	return ids, nil
}

// GetMessage fetches a full message and flattens it into the shared
// message representation.
func (s *Service) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	var raw *gmail_api.Message
	err := s.call(ctx, quotaUnitsPerMessagesGet, func() error {
		m, err := s.service.Users.Messages.Get("me", id).Context(ctx).Format("full").Do()
		if err != nil {
			return err
		}
		raw = m
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting message %v", id)
	}
	return parseMessage(raw), nil
}

// Thread fetches every message in a thread, used to give the
// assistant conversational context.
func (s *Service) Thread(ctx context.Context, threadID string) ([]*message.Message, error) {
	var raw *gmail_api.Thread
	err := s.call(ctx, quotaUnitsPerThreadsGet, func() error {
		t, err := s.service.Users.Threads.Get("me", threadID).Context(ctx).Format("full").Do()
		if err != nil {
			return err
		}
		raw = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting thread %v", threadID)
	}
	msgs := make([]*message.Message, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		msgs = append(msgs, parseMessage(m))
	}
	return msgs, nil
}

// HasDraft reports whether any message in the thread currently
// carries the DRAFT label.
func (s *Service) HasDraft(ctx context.Context, threadID string) (bool, error) {
	var raw *gmail_api.Thread
	err := s.call(ctx, quotaUnitsPerThreadsGet, func() error {
		t, err := s.service.Users.Threads.Get("me", threadID).Context(ctx).Format("minimal").Do()
		if err != nil {
			return err
		}
		raw = t
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "checking thread %v for drafts", threadID)
	}
	for _, m := range raw.Messages {
		for _, l := range m.LabelIds {
			if l == LabelDraft {
				return true, nil
			}
		}
	}
	return false, nil
}

// CreateDraft saves an unsent reply on the given thread and returns
// the new draft's identifier.  The existing-draft check is repeated
// here, immediately before the write, so a draft created by other
// means between selection and write surfaces as ErrDraftExists
// instead of a duplicate.
func (s *Service) CreateDraft(ctx context.Context, threadID, to, subject, body string) (string, error) {
	has, err := s.HasDraft(ctx, threadID)
	if err != nil {
		return "", err
	}
	if has {
		return "", errors.Wrapf(ErrDraftExists, "thread %v", threadID)
	}

	raw := buildRawMessage(to, subject, body)
	draft := &gmail_api.Draft{
		Message: &gmail_api.Message{
			ThreadId: threadID,
			Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		},
	}
	var created *gmail_api.Draft
	err = s.call(ctx, quotaUnitsPerDraftsCreate, func() error {
		d, err := s.service.Users.Drafts.Create("me", draft).Context(ctx).Do()
		if err != nil {
			return err
		}
		created = d
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "creating draft on thread %v", threadID)
	}
	return created.Id, nil
}

// RemoveLabel detaches a label from a message.
func (s *Service) RemoveLabel(ctx context.Context, id, labelID string) error {
	err := s.call(ctx, quotaUnitsPerModify, func() error {
		_, err := s.service.Users.Messages.Modify("me", id, &gmail_api.ModifyMessageRequest{
			RemoveLabelIds: []string{labelID},
		}).Context(ctx).Do()
		return err
	})
	return errors.Wrapf(err, "removing label %v from message %v", labelID, id)
}

// buildRawMessage renders an RFC 2822 reply suitable for the drafts
// endpoint.  Gmail fills in the From header for the account owner.
func buildRawMessage(to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func parseMessage(m *gmail_api.Message) *message.Message {
	out := &message.Message{
		ID:       message.ID{PermID: m.Id, ThreadID: m.ThreadId},
		LabelIDs: m.LabelIds,
		Received: time.UnixMilli(m.InternalDate).UTC(),
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch h.Name {
			case "From":
				out.From = h.Value
			case "Subject":
				out.Subject = h.Value
			}
		}
		out.Body = extractBody(m.Payload)
	}
	return out
}

// extractBody pulls plain text out of a message payload, preferring a
// text/plain part and falling back to text/html with line breaks
// preserved.
func extractBody(p *gmail_api.MessagePart) string {
	if b := findPart(p, "text/plain"); b != "" {
		return b
	}
	if b := findPart(p, "text/html"); b != "" {
		b = strings.ReplaceAll(b, "<br>", "\n")
		b = strings.ReplaceAll(b, "<br/>", "\n")
		b = strings.ReplaceAll(b, "<br />", "\n")
		return b
	}
	return ""
}

func findPart(p *gmail_api.MessagePart, mimeType string) string {
	if p == nil {
		return ""
	}
	if p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
		// Body data arrives base64url encoded, sometimes without
		// padding.
		data, err := base64.URLEncoding.DecodeString(p.Body.Data)
		if err != nil {
			data, err = base64.RawURLEncoding.DecodeString(p.Body.Data)
		}
		if err == nil {
			return string(data)
		}
	}
	for _, part := range p.Parts {
		if b := findPart(part, mimeType); b != "" {
			return b
		}
	}
	return ""
}
