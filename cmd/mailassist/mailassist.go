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

// The mailassist command indexes labeled sent mail into an OpenAI
// vector store and drafts assistant-generated replies for unanswered
// inbox messages.  It is built to run unattended on a schedule: one
// invocation is one pass over each pipeline, and a run that completes
// exits zero even when individual messages failed and were left for
// the next run.
package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/erosenberg/mailassist/internal/assistant"
	"github.com/erosenberg/mailassist/internal/config"
	"github.com/erosenberg/mailassist/internal/gmail"
	"github.com/erosenberg/mailassist/internal/gmailhttp"
	"github.com/erosenberg/mailassist/internal/run"
	"github.com/erosenberg/mailassist/internal/state"
	"github.com/erosenberg/mailassist/internal/tracehttp"
)

// Exit codes.  Per-message failures never affect the exit code; they
// are logged and retried on the next scheduled run.
const (
	exitOK     = 0
	exitAuth   = 1 // rejected credentials, operator must re-authorize
	exitConfig = 2 // missing or invalid configuration
)

var (
	flagMode    = flag.String("mode", "all", `pipelines to run: "index", "draft" or "all"`)
	flagSetup   = flag.Bool("setup", false, "run the one-time interactive Gmail consent flow and exit")
	flagTrace   = flag.Bool("T", false, "request debug tracing")
	flagVerbose = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()
	if *flagTrace {
		tracehttp.WrapDefaultTransport()
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel).
		With().Timestamp().Logger()
	if *flagVerbose {
		log = log.Level(zerolog.DebugLevel)
	}

	os.Exit(realMain(log))
}

func realMain(log zerolog.Logger) int {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file; using process environment")
	}
	cfg := config.Load(os.Getenv)

	var doIndex, doDraft bool
	switch *flagMode {
	case "index":
		doIndex = true
	case "draft":
		doDraft = true
	case "all":
		doIndex, doDraft = true, true
	default:
		log.Error().Str("mode", *flagMode).Msg(`mode must be "index", "draft" or "all"`)
		return exitConfig
	}

	ctx := context.Background()

	if *flagSetup {
		if err := gmailhttp.Setup(ctx, cfg, os.Stdin, os.Stdout); err != nil {
			log.Error().Err(err).Msg("consent flow failed")
			return exitAuth
		}
		return exitOK
	}

	if err := cfg.Validate(doIndex, doDraft); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return exitConfig
	}

	client, err := gmailhttp.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("unable to initialize Gmail HTTP client")
		if errors.Cause(err) == gmailhttp.ErrNoToken {
			return exitAuth
		}
		return exitConfig
	}
	mb, err := gmail.New(ctx, client, log)
	if err != nil {
		log.Error().Err(err).Msg("unable to initialize Gmail service")
		return exitConfig
	}
	ai := assistant.New(cfg.OpenAIAPIKey, log)

	// The pipelines share no state files or remote artifacts, so a
	// failure in one never cancels the other.  Each pipeline is
	// internally sequential; only the two runs are concurrent.
	var g errgroup.Group
	if doIndex {
		g.Go(func() error {
			st := state.NewStore(filepath.Join(cfg.StateDir, "index_state.json"))
			_, err := run.Index(ctx, mb, ai, st, cfg, log)
			return err
		})
	}
	if doDraft {
		g.Go(func() error {
			st := state.NewStore(filepath.Join(cfg.StateDir, "draft_state.json"))
			_, err := run.Draft(ctx, mb, ai, st, cfg, log)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		switch errors.Cause(err) {
		case gmail.ErrUnauthorized, assistant.ErrUnauthorized:
			log.Error().Err(err).Msg("credentials rejected; re-authorize and retry")
			return exitAuth
		}
		// A run aborted by a transient failure keeps exit code 0:
		// the watermark is intact and the next scheduled run picks
		// the work back up.
		log.Error().Err(err).Msg("run aborted; will retry next scheduled run")
	}
	return exitOK
}
