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

// Package gmailhttp builds an OAuth 2.0 authenticated *http.Client
// for the Gmail API from an installed-app client secret file and a
// cached token file.
//
// Scheduled runs never prompt: when the token file is missing or
// unreadable, New fails with ErrNoToken and the operator is expected
// to run the one-time Setup consent flow interactively.  Token
// refresh on expiry is handled by the oauth2 transport using the
// cached refresh token.
package gmailhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail_api "google.golang.org/api/gmail/v1"

	"github.com/erosenberg/mailassist/internal/config"
	"github.com/pkg/errors"
)

// ErrNoToken indicates that no cached OAuth token exists yet.
var ErrNoToken = errors.New("no cached OAuth token; run with -setup to authorize")

func oauthConfig(cfg config.Config) (*oauth2.Config, error) {
	b, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading client secret file %q", cfg.CredentialsPath)
	}
	oc, err := google.ConfigFromJSON(b, gmail_api.GmailModifyScope)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing client secret file %q", cfg.CredentialsPath)
	}
	if cfg.RedirectURI != "" {
		oc.RedirectURL = cfg.RedirectURI
	}
	return oc, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, errors.Wrapf(err, "parsing token file %q", path)
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "creating token file %q", path)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return errors.Wrapf(err, "writing token file %q", path)
	}
	return nil
}

// New returns an authenticated HTTP client for the Gmail API, or
// ErrNoToken when the consent flow has not been completed yet.
func New(ctx context.Context, cfg config.Config) (*http.Client, error) {
	oc, err := oauthConfig(cfg)
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(cfg.TokenPath)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(ErrNoToken, "token file %q", cfg.TokenPath)
		}
		return nil, err
	}
	return oc.Client(ctx, tok), nil
}

// Setup runs the one-time interactive consent flow on the console and
// caches the resulting token.  It is the only part of the program
// that prompts.
func Setup(ctx context.Context, cfg config.Config, in *os.File, out *os.File) error {
	oc, err := oauthConfig(cfg)
	if err != nil {
		return err
	}
	authURL := oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Authorize this app by visiting:\n%s\n\nEnter the authorization code: ", authURL)

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return errors.New("no authorization code entered")
	}
	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		return errors.New("no authorization code entered")
	}

	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "exchanging authorization code")
	}
	if err := saveToken(cfg.TokenPath, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", cfg.TokenPath)
	return nil
}
