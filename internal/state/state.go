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

// Package state persists per-pipeline processing watermarks.
//
// Each pipeline owns a single JSON record on disk holding the
// timestamp and id of the newest message it has fully processed.
// The record is read once at the start of a run and rewritten at most
// once at the end; the write goes through a temp file and rename so a
// crash mid-save cannot leave a truncated, unparsable record behind.
// Unknown fields in the file are ignored, which leaves room for the
// schema to grow.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/erosenberg/mailassist/internal/message"
	"github.com/pkg/errors"
)

// State is a pipeline's progress watermark: the newest message the
// pipeline has successfully processed.  The zero value means no prior
// run; a first run considers all eligible history.
type State struct {
	// LastProcessedTime is the provider receipt time of the last
	// processed message, RFC 3339 in the file.
	LastProcessedTime time.Time `json:"last_processed_time"`

	// LastProcessedID breaks ties between messages sharing the
	// exact watermark timestamp, since timestamp resolution is not
	// guaranteed unique.
	LastProcessedID string `json:"last_processed_id"`
}

// IsZero reports whether the state records no prior progress.
func (s State) IsZero() bool {
	return s.LastProcessedTime.IsZero() && s.LastProcessedID == ""
}

// Admits reports whether a message with the given receipt time and id
// is still eligible for processing.  Anything strictly newer than the
// watermark is admitted.  A message matching the watermark timestamp
// exactly is rejected only when its id matches the recorded one.
func (s State) Admits(received time.Time, id string) bool {
	if received.After(s.LastProcessedTime) {
		return true
	}
	if received.Equal(s.LastProcessedTime) {
		return id != s.LastProcessedID
	}
	return false
}

// Advance returns the state moved forward to the given message.
func (s State) Advance(msg *message.Message) State {
	return State{LastProcessedTime: msg.Received, LastProcessedID: msg.PermID}
}

// Store reads and writes a single pipeline's State file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored state, or the zero State when no file
// exists yet.
func (st *Store) Load() (State, error) {
	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, errors.Wrapf(err, "reading state file %q", st.path)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, errors.Wrapf(err, "parsing state file %q", st.path)
	}
	return s, nil
}

// Save atomically replaces the stored state.  The record is written
// to a temp file in the same directory and renamed into place.
func (st *Store) Save(s State) error {
	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "creating state directory %q", dir)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding state")
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp state file in %q", dir)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "writing temp state file %q", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "closing temp state file %q", tmpName)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "renaming state file into place at %q", st.path)
	}
	return nil
}
