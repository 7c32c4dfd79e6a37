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

// Package tracehttp dumps HTTP traffic for debugging API
// interactions.  Credentials in request headers are redacted before
// anything is printed.
package tracehttp

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
)

// traceTransport is an http.RoundTripper that prints the request and
// response to stderr while delegating the real work to another
// http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
}

// sensitiveHeaders carry credentials and never appear in dumps.
var sensitiveHeaders = []string{"Authorization", "X-Goog-Api-Key", "Openai-Organization"}

func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	// DumpRequest replaces req.Body with a buffered copy, so the
	// dump has to happen on the live request rather than a clone.
	// Redact the credential headers around it instead.
	saved := redact(req.Header)
	dump, dumpErr := httputil.DumpRequest(req, true)
	restore(req.Header, saved)
	if dumpErr == nil {
		fmt.Fprintln(os.Stderr, string(dump))
	}
	resp, err = t.delegate.RoundTrip(req)
	if err == nil {
		dump, dumpErr = httputil.DumpResponse(resp, true)
		if dumpErr == nil {
			fmt.Fprintln(os.Stderr, string(dump))
		}
	}
	return resp, err
}

func redact(h http.Header) map[string][]string {
	saved := make(map[string][]string)
	for _, name := range sensitiveHeaders {
		if v, ok := h[http.CanonicalHeaderKey(name)]; ok {
			saved[name] = v
			h.Set(name, "REDACTED")
		}
	}
	return saved
}

func restore(h http.Header, saved map[string][]string) {
	for name, v := range saved {
		h[http.CanonicalHeaderKey(name)] = v
	}
}

func Wrap(d http.RoundTripper) http.RoundTripper {
	return &traceTransport{d}
}

// WrapDefaultTransport injects a traceTransport into
// http.DefaultTransport so every client built afterwards is traced.
func WrapDefaultTransport() {
	http.DefaultTransport = Wrap(http.DefaultTransport)
}
