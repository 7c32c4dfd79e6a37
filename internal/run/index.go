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

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/erosenberg/mailassist/internal/config"
	"github.com/erosenberg/mailassist/internal/message"
	"github.com/erosenberg/mailassist/internal/normalize"
)

// Index runs the indexing pipeline once: labeled sent messages newer
// than the watermark are normalized and ingested into the vector
// store so the assistant can ground replies in the user's own
// writing.
func Index(ctx context.Context, mb Mailbox, up Uploader, store StateStore, cfg config.Config, log zerolog.Logger) (Stats, error) {
	log = log.With().Str("pipeline", "index").Logger()
	var stats Stats

	prior, err := store.Load()
	if err != nil {
		return stats, err
	}
	ids, err := mb.ListLabeled(ctx, cfg.GmailLabelID)
	if err != nil {
		return stats, errors.Wrap(err, "listing labeled messages")
	}
	msgs, allFetched, err := fetchCandidates(ctx, mb, ids, prior, log)
	if err != nil {
		return stats, err
	}
	stats.Candidates = len(msgs)
	if len(msgs) == 0 {
		log.Info().Str("label", cfg.GmailLabelID).Msg("no new labeled messages")
		return stats, nil
	}

	wm := prior
	advance := allFetched
	for _, msg := range msgs {
		doc := normalize.Document(msg, cfg.SignatureMarker)
		if doc == "" {
			log.Warn().Str("message", msg.PermID).Msg("skipped empty message")
			stats.Skipped++
			if advance {
				wm = wm.Advance(msg)
			}
			continue
		}
		if err := indexOne(ctx, mb, up, cfg, msg, doc, log); err != nil {
			if isFatal(err) {
				return stats, err
			}
			log.Error().Err(err).Str("message", msg.PermID).Msg("failed to index message")
			stats.Failed++
			advance = false
			continue
		}
		stats.Processed++
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
		Msg("index run complete")
	return stats, nil
}

func indexOne(ctx context.Context, mb Mailbox, up Uploader, cfg config.Config, msg *message.Message, doc string, log zerolog.Logger) error {
	fileID, err := up.UploadDocument(ctx, normalize.DocumentName(msg), doc)
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}
	// An attach failure after a successful upload leaves the file
	// as a harmless orphan; the message is retried whole next run.
	if err := up.AttachToVectorStore(ctx, cfg.VectorStoreID, fileID); err != nil {
		return errors.Wrap(err, "attaching to vector store")
	}
	log.Info().
		Str("message", msg.PermID).
		Str("file", fileID).
		Msg("indexed message")

	// Clearing the queue label is best effort: the watermark is
	// what prevents resubmission, the label only keeps the next
	// selection small.
	if err := mb.RemoveLabel(ctx, msg.PermID, cfg.GmailLabelID); err != nil {
		log.Warn().Err(err).Str("message", msg.PermID).Msg("could not remove label")
	}
	return nil
}
