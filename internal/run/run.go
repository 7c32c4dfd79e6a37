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

// Package run orchestrates the two pipelines.  Each run is a single
// sequential pass: select all candidates, process each to completion
// with per-item failures logged and skipped, then persist the
// watermark once at the end.  Serialization of runs is the external
// scheduler's job; there is no locking here.
package run

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/erosenberg/mailassist/internal/assistant"
	"github.com/erosenberg/mailassist/internal/gmail"
	"github.com/erosenberg/mailassist/internal/message"
	"github.com/erosenberg/mailassist/internal/state"
)

// Stats summarizes a single pipeline run.
type Stats struct {
	// Candidates is the number of messages admitted past the
	// watermark this run.
	Candidates int

	// Processed counts candidates whose artifact was created.
	Processed int

	// Skipped counts candidates resolved without an artifact:
	// empty bodies and already-drafted threads.  Skips count as
	// success for watermark purposes.
	Skipped int

	// Failed counts candidates that hit a retryable error and
	// remain eligible next run.
	Failed int
}

// isFatal reports whether an error must abort the whole run rather
// than skip a single candidate.  Only rejected credentials qualify;
// everything else is retried by the next scheduled invocation.
func isFatal(err error) bool {
	switch errors.Cause(err) {
	case gmail.ErrUnauthorized, assistant.ErrUnauthorized:
		return true
	}
	return false
}

// fetchCandidates fetches each listed message, drops the ones the
// watermark rejects, and orders the remainder oldest first so the
// watermark can advance through an unbroken prefix of successes.
//
// A message that fails to fetch has an unknown position in that
// order, so its failure freezes the watermark for the whole run (the
// returned allFetched is false).  A message the provider no longer
// has is dropped without freezing anything.
func fetchCandidates(ctx context.Context, mb MessageGetter, ids []message.ID, wm state.State, log zerolog.Logger) ([]*message.Message, bool, error) {
	msgs := make([]*message.Message, 0, len(ids))
	allFetched := true
	for _, id := range ids {
		msg, err := mb.GetMessage(ctx, id.PermID)
		if err != nil {
			if isFatal(err) {
				return nil, false, err
			}
			if errors.Cause(err) == gmail.ErrMessageNotFound {
				log.Debug().Str("message", id.PermID).Msg("message no longer exists")
				continue
			}
			log.Error().Err(err).Str("message", id.PermID).Msg("failed to fetch candidate")
			allFetched = false
			continue
		}
		if !wm.Admits(msg.Received, msg.PermID) {
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Received.Equal(msgs[j].Received) {
			return msgs[i].Received.Before(msgs[j].Received)
		}
		return msgs[i].PermID < msgs[j].PermID
	})
	return msgs, allFetched, nil
}

// saveIfAdvanced persists the watermark when the run moved it.  A run
// with zero successes leaves the stored state untouched.
func saveIfAdvanced(store StateStore, prior, wm state.State, log zerolog.Logger) error {
	if wm == prior {
		return nil
	}
	if err := store.Save(wm); err != nil {
		return errors.Wrap(err, "saving watermark")
	}
	log.Debug().
		Time("watermark", wm.LastProcessedTime).
		Str("message", wm.LastProcessedID).
		Msg("watermark advanced")
	return nil
}
