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

package run

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/erosenberg/mailassist/internal/assistant"
	"github.com/erosenberg/mailassist/internal/config"
	"github.com/erosenberg/mailassist/internal/gmail"
	"github.com/erosenberg/mailassist/internal/message"
	"github.com/erosenberg/mailassist/internal/normalize"
)

// Draft runs the reply pipeline once: inbox messages whose thread has
// no draft yet get an assistant-generated reply saved as a draft.
// Nothing is ever sent.  The existing-draft check is the duplicate
// guard; the watermark only keeps the inbox query small.
func Draft(ctx context.Context, mb Mailbox, gen Generator, store StateStore, cfg config.Config, log zerolog.Logger) (Stats, error) {
	log = log.With().Str("pipeline", "draft").Logger()
	var stats Stats

	prior, err := store.Load()
	if err != nil {
		return stats, err
	}
	ids, err := mb.ListInbox(ctx, prior.LastProcessedTime)
	if err != nil {
		return stats, errors.Wrap(err, "listing inbox messages")
	}
	msgs, allFetched, err := fetchCandidates(ctx, mb, ids, prior, log)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(msgs)
	if len(msgs) == 0 {
		log.Info().Msg("no new inbox messages")
		return stats, nil
	}

	wm := prior
	advance := allFetched
	for _, msg := range msgs {
		created, err := draftOne(ctx, mb, gen, cfg, msg, log)
		if err != nil {
			if isFatal(err) {
				return stats, err
			}
			if errors.Cause(err) == assistant.ErrGenerationTimeout {
				log.Warn().Str("message", msg.PermID).Msg("generation timed out; retrying next run")
			} else {
				log.Error().Err(err).Str("message", msg.PermID).Msg("failed to draft reply")
			}
			stats.Failed++
			advance = false
			continue
		}
		if created {
			stats.Processed++
		} else {
			stats.Skipped++
		}
		if advance {
			wm = wm.Advance(msg)
		}
	}

	if err := saveIfAdvanced(store, prior, wm, log); err != nil {
		return stats, err
	}
	log.Info().
		Int("candidates", stats.Candidates).
		Int("processed", stats.Processed).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("draft run complete")
	return stats, nil
}

// draftOne processes a single candidate.  It reports created=false
// without error for the benign outcomes that need no artifact: an
// empty body, or a thread that already has a draft (whether found at
// selection or at write time).
func draftOne(ctx context.Context, mb Mailbox, gen Generator, cfg config.Config, msg *message.Message, log zerolog.Logger) (bool, error) {
	has, err := mb.HasDraft(ctx, msg.ThreadID)
	if err != nil {
		return false, errors.Wrap(err, "checking for existing draft")
	}
	if has {
		log.Debug().Str("thread", msg.ThreadID).Msg("draft already exists")
		return false, nil
	}

	if strings.TrimSpace(normalize.StripSignature(msg.Body, cfg.SignatureMarker)) == "" {
		log.Warn().Str("message", msg.PermID).Msg("skipped empty message")
		return false, nil
	}

	thread, err := mb.Thread(ctx, msg.ThreadID)
	if err != nil {
		return false, errors.Wrap(err, "fetching thread context")
	}
	prompt := normalize.ReplyPrompt(msg, thread, cfg.SignatureMarker)

	log.Info().
		Str("message", msg.PermID).
		Str("from", msg.From).
		Str("subject", msg.Subject).
		Msg("generating reply")
	reply, err := gen.GenerateReply(ctx, cfg.AssistantID, prompt)
	if err != nil {
		return false, err
	}

	body := normalize.ReplyBody(reply, cfg.SignatureMarker, cfg.EmailSignature)
	draftID, err := mb.CreateDraft(ctx, msg.ThreadID, msg.From, normalize.ReplySubject(msg.Subject), body)
	if err != nil {
		// A draft that appeared between the selection check and
		// the write (say, the user started one by hand) is not a
		// failure; the thread is resolved either way.
		if errors.Cause(err) == gmail.ErrDraftExists {
			log.Info().Str("thread", msg.ThreadID).Msg("draft already exists; leaving it")
			return false, nil
		}
		return false, errors.Wrap(err, "creating draft")
	}
	log.Info().
		Str("message", msg.PermID).
		Str("draft", draftID).
		Msg("draft created")

	// Best effort; a still-unread message costs nothing next run
	// because the thread now has a draft.
	if err := mb.RemoveLabel(ctx, msg.PermID, gmail.LabelUnread); err != nil {
		log.Warn().Err(err).Str("message", msg.PermID).Msg("could not mark read")
	}
	return true, nil
}
