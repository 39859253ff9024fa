// Copyright (c) 2024 santosr2
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package registry queries the crates.io API for release metadata.
//
// Transport failures retry with a linear backoff (200 ms x attempt) up to the
// configured retry count. A non-success HTTP status is never retried; the
// registry spoke, and repeating the question will not change the answer.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/santosr2/cargo-cooldown/internal/version"
)

const (
	requestTimeout = 10 * time.Second
	backoffStep    = 200 * time.Millisecond
)

// VersionMeta describes one published release of a crate.
type VersionMeta struct {
	Num       string    `json:"num"`
	CreatedAt time.Time `json:"created_at"`
	Yanked    bool      `json:"yanked"`
}

type versionResponse struct {
	Version VersionMeta `json:"version"`
}

type crateResponse struct {
	Versions []VersionMeta `json:"versions"`
}

// Client is a crates.io API client.
type Client struct {
	http    *http.Client
	base    *url.URL
	retries uint64
}

// NewClient builds a client for the given API base URL.
func NewClient(apiURL string, retries uint64) (*Client, error) {
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid registry API URL %q: %w", apiURL, err)
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		base:    base,
		retries: retries,
	}, nil
}

// FetchVersion returns the metadata for one release.
func (c *Client) FetchVersion(ctx context.Context, name, ver string) (VersionMeta, error) {
	var resp versionResponse
	if err := c.getJSON(ctx, c.base.JoinPath("crates", name, ver), &resp); err != nil {
		return VersionMeta{}, fmt.Errorf("fetch %s@%s: %w", name, ver, err)
	}
	return resp.Version, nil
}

// ListVersions returns every release of a crate, in registry order.
func (c *Client) ListVersions(ctx context.Context, name string) ([]VersionMeta, error) {
	var resp crateResponse
	if err := c.getJSON(ctx, c.base.JoinPath("crates", name), &resp); err != nil {
		return nil, fmt.Errorf("list versions of %s: %w", name, err)
	}
	return resp.Versions, nil
}

func (c *Client) getJSON(ctx context.Context, u *url.URL, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := c.http.Do(req)
		if err != nil {
			return err // transport error, retryable
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("registry returned status %d for %s", resp.StatusCode, u))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode registry response: %w", err))
		}
		return nil
	}

	pol := &linearBackOff{step: backoffStep, maxRetries: c.retries}
	return backoff.Retry(op, backoff.WithContext(pol, ctx))
}

// linearBackOff sleeps step x attempt between retries and stops after
// maxRetries retries (maxRetries+1 total attempts).
type linearBackOff struct {
	step       time.Duration
	maxRetries uint64
	attempt    uint64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	if l.attempt > l.maxRetries {
		return backoff.Stop
	}
	return l.step * time.Duration(l.attempt)
}

func (l *linearBackOff) Reset() {
	l.attempt = 0
}
