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

// Package assistant is the adapter for the generative provider.  It
// covers the two remote call shapes the pipelines need: uploading a
// normalized document into a vector store, and generating a reply by
// running an assistant against a prompt with a bounded polling wait.
package assistant

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// maxPollAttempts bounds how long a generation run is polled
	// before the candidate is given up on for this run.
	maxPollAttempts = 30

	pollBaseDelay = time.Second
	pollMaxDelay  = 8 * time.Second
)

var (
	// ErrGenerationTimeout indicates the assistant run did not
	// reach a terminal state within the polling budget.  The
	// candidate is retried on the next invocation.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrUnauthorized indicates the API key was rejected.
	ErrUnauthorized = errors.New("openai credentials rejected")
)

// sleepFunc suspends for d or until the context is done.  Injected in
// tests.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client wraps the OpenAI API for the two pipelines.
type Client struct {
	api   *openai.Client
	log   zerolog.Logger
	sleep sleepFunc
}

func New(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		api:   openai.NewClient(apiKey),
		log:   log.With().Str("component", "assistant").Logger(),
		sleep: sleepContext,
	}
}

// UploadDocument uploads the normalized text as an assistants file
// and returns the provider's file id.
func (c *Client) UploadDocument(ctx context.Context, name, text string) (string, error) {
	file, err := c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   []byte(text),
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", classify(errors.Wrapf(err, "uploading file %q", name))
	}
	return file.ID, nil
}

// AttachToVectorStore adds an uploaded file to the configured vector
// store.  Upload and attach are separate provider calls; a failure
// here leaves the uploaded file as a harmless orphan and the caller
// retries the whole message next run.
func (c *Client) AttachToVectorStore(ctx context.Context, vectorStoreID, fileID string) error {
	_, err := c.api.CreateVectorStoreFile(ctx, vectorStoreID, openai.VectorStoreFileRequest{
		FileID: fileID,
	})
	if err != nil {
		return classify(errors.Wrapf(err, "attaching file %v to vector store %v", fileID, vectorStoreID))
	}
	return nil
}

// GenerateReply runs the configured assistant against the prompt and
// blocks, with a bounded polling wait, until the run completes.  A
// run still pending after the polling budget fails with
// ErrGenerationTimeout.
func (c *Client) GenerateReply(ctx context.Context, assistantID, prompt string) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", classify(errors.Wrap(err, "creating thread"))
	}
	_, err = c.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
	if err != nil {
		return "", classify(errors.Wrap(err, "adding prompt message"))
	}
	run, err := c.api.CreateRun(ctx, thread.ID, openai.RunRequest{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", classify(errors.Wrap(err, "starting run"))
	}

	run, err = waitForRun(ctx, c.sleep, maxPollAttempts, func(ctx context.Context) (openai.Run, error) {
		return c.api.RetrieveRun(ctx, thread.ID, run.ID)
	})
	if err != nil {
		return "", classify(err)
	}

	limit := 1
	msgs, err := c.api.ListMessage(ctx, thread.ID, &limit, nil, nil, nil, nil)
	if err != nil {
		return "", classify(errors.Wrap(err, "listing run output"))
	}
	for _, m := range msgs.Messages {
		for _, content := range m.Content {
			if content.Text != nil && content.Text.Value != "" {
				return content.Text.Value, nil
			}
		}
	}
	return "", errors.Errorf("run %v completed without text output", run.ID)
}

// pollDelay is the wait before the given retrieve attempt: a doubling
// backoff from pollBaseDelay capped at pollMaxDelay.  Pure so the
// schedule is testable without a clock.
func pollDelay(attempt int) time.Duration {
	d := pollBaseDelay << uint(attempt)
	if d <= 0 || d > pollMaxDelay {
		return pollMaxDelay
	}
	return d
}

// waitForRun polls retrieve until the run reaches a terminal state or
// the attempt budget is exhausted.
func waitForRun(ctx context.Context, sleep sleepFunc, maxAttempts int, retrieve func(context.Context) (openai.Run, error)) (openai.Run, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := sleep(ctx, pollDelay(attempt)); err != nil {
			return openai.Run{}, err
		}
		run, err := retrieve(ctx)
		if err != nil {
			return openai.Run{}, errors.Wrap(err, "retrieving run")
		}
		switch run.Status {
		case openai.RunStatusCompleted:
			return run, nil
		case openai.RunStatusFailed, openai.RunStatusExpired,
			openai.RunStatusCancelled, openai.RunStatusIncomplete:
			if run.LastError != nil {
				return openai.Run{}, errors.Errorf("run %v %v: %v",
					run.ID, run.Status, run.LastError.Message)
			}
			return openai.Run{}, errors.Errorf("run %v %v", run.ID, run.Status)
		}
	}
	return openai.Run{}, errors.Wrapf(ErrGenerationTimeout,
		"run still pending after %d attempts", maxAttempts)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := errors.Cause(err).(*openai.APIError); ok {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return errors.Wrap(ErrUnauthorized, apiErr.Message)
		}
	}
	return err
}
