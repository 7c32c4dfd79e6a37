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

// This file declares the collaborator interfaces the pipelines
// depend on.  The adapters satisfy them; tests inject fakes.

import (
	"context"
	"time"

	"github.com/erosenberg/mailassist/internal/message"
	"github.com/erosenberg/mailassist/internal/state"
)

// MessageLister lists candidate message identifiers from the mailbox.
type MessageLister interface {
	ListLabeled(ctx context.Context, labelID string) ([]message.ID, error)
	ListInbox(ctx context.Context, after time.Time) ([]message.ID, error)
}

// MessageGetter fetches a full message by identifier.
type MessageGetter interface {
	GetMessage(ctx context.Context, id string) (*message.Message, error)
}

// ThreadReader exposes per-thread capabilities: the messages making
// up a thread, and whether the thread already has a draft.  The
// existing-draft capability is defined abstractly here; how the
// provider answers it is the adapter's concern.
type ThreadReader interface {
	Thread(ctx context.Context, threadID string) ([]*message.Message, error)
	HasDraft(ctx context.Context, threadID string) (bool, error)
}

// DraftWriter saves an unsent reply on a thread.  Implementations
// must re-check for an existing draft immediately before the write
// and fail with a conflict rather than create a duplicate.
type DraftWriter interface {
	CreateDraft(ctx context.Context, threadID, to, subject, body string) (string, error)
}

// LabelModifier detaches a label from a message.
type LabelModifier interface {
	RemoveLabel(ctx context.Context, id, labelID string) error
}

// Mailbox provides all mailbox actions the pipelines need.
type Mailbox interface {
	MessageLister
	MessageGetter
	ThreadReader
	DraftWriter
	LabelModifier
}

// Uploader ingests a normalized document into the knowledge store:
// an upload followed by a vector store attachment, both required.
type Uploader interface {
	UploadDocument(ctx context.Context, name, text string) (string, error)
	AttachToVectorStore(ctx context.Context, vectorStoreID, fileID string) error
}

// Generator produces a reply body for a prompt.
type Generator interface {
	GenerateReply(ctx context.Context, assistantID, prompt string) (string, error)
}

// StateStore persists a pipeline's progress watermark.
type StateStore interface {
	Load() (state.State, error)
	Save(state.State) error
}
