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

// Package config resolves the fixed set of named options the
// pipelines depend on.  The configuration is read once at startup
// from the environment (optionally seeded from a .env file by the
// caller) and is immutable for the duration of the run.
package config

import (
	"path/filepath"
	"strings"

	"github.com/erosenberg/mailassist/internal/homedir"
	"github.com/pkg/errors"
)

// Config holds every recognized option.  Values are plain strings as
// they arrive from the environment; components receive the Config by
// value and must not mutate it.
type Config struct {
	// OpenAI.
	OpenAIAPIKey  string
	AssistantID   string
	VectorStoreID string

	// Gmail.
	GmailLabelID    string
	CredentialsPath string
	TokenPath       string
	RedirectURI     string

	// Normalization.
	SignatureMarker string
	EmailSignature  string

	// Local state.
	StateDir string
}

const (
	defaultSignatureMarker = "--"
	defaultCredentialsPath = "credentials.json"
	defaultTokenPath       = "token.json"
	defaultRedirectURI     = "http://localhost:8888/"
)

// Load reads the configuration from the environment.  It performs no
// validation beyond defaulting; call Validate before doing any
// network work.
func Load(getenv func(string) string) Config {
	return Config{
		OpenAIAPIKey:  getenv("OPENAI_API_KEY"),
		AssistantID:   getenv("ASSISTANT_ID"),
		VectorStoreID: getenv("VECTOR_STORE_ID"),

		GmailLabelID:    getenv("GMAIL_LABEL_ID"),
		CredentialsPath: withDefault(getenv("GOOGLE_CREDENTIALS_PATH"), defaultCredentialsPath),
		TokenPath:       withDefault(getenv("GOOGLE_TOKEN_PATH"), defaultTokenPath),
		RedirectURI:     withDefault(getenv("REDIRECT_URI"), defaultRedirectURI),

		SignatureMarker: withDefault(getenv("SIGNATURE_MARKER"), defaultSignatureMarker),
		EmailSignature:  getenv("EMAIL_SIGNATURE"),

		StateDir: withDefault(getenv("STATE_DIR"), filepath.Join(homedir.Get(), ".mailassist")),
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Validate checks that every option the requested pipelines depend on
// is present.  The index pipeline needs the vector store and queue
// label; the draft pipeline needs the assistant.  All missing options
// are reported in a single error so a misconfigured deployment can be
// fixed in one pass.
func (c Config) Validate(index, draft bool) error {
	var missing []string
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if index {
		if c.VectorStoreID == "" {
			missing = append(missing, "VECTOR_STORE_ID")
		}
		if c.GmailLabelID == "" {
			missing = append(missing, "GMAIL_LABEL_ID")
		}
	}
	if draft {
		if c.AssistantID == "" {
			missing = append(missing, "ASSISTANT_ID")
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required configuration: %s",
			strings.Join(missing, ", "))
	}
	return nil
}
