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

package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchVersion(t *testing.T) {
	var gotPath, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"version": {"num": "1.2.3", "created_at": "2024-09-30T22:00:00Z", "yanked": false}}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api/v1/", 0)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := client.FetchVersion(context.Background(), "serde", "1.2.3")
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/api/v1/crates/serde/1.2.3" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotAgent, "cargo-cooldown/") {
		t.Errorf("User-Agent = %q", gotAgent)
	}
	if meta.Num != "1.2.3" || meta.Yanked {
		t.Errorf("meta = %+v", meta)
	}
	want := time.Date(2024, 9, 30, 22, 0, 0, 0, time.UTC)
	if !meta.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", meta.CreatedAt, want)
	}
}

func TestListVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/crates/serde" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"versions": [
			{"num": "1.2.3", "created_at": "2024-09-30T23:50:00Z", "yanked": false},
			{"num": "1.2.2", "created_at": "2024-09-30T22:00:00Z", "yanked": true}
		]}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/api/v1/", 0)
	if err != nil {
		t.Fatal(err)
	}
	versions, err := client.ListVersions(context.Background(), "serde")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Fatalf("got %d versions", len(versions))
	}
	if versions[0].Num != "1.2.3" || !versions[1].Yanked {
		t.Errorf("versions = %+v", versions)
	}
}

func TestHTTPErrorIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.FetchVersion(context.Background(), "serde", "1.0.0"); err == nil {
		t.Fatal("want error for 500 status")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (non-2xx must not retry)", got)
	}
}

func TestTransportErrorRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			// Drop the connection mid-request to force a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatal(err)
			}
			_ = conn.Close()
			return
		}
		_, _ = w.Write([]byte(`{"version": {"num": "1.0.0", "created_at": "2024-09-01T00:00:00Z", "yanked": false}}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", 2)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := client.FetchVersion(context.Background(), "serde", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Num != "1.0.0" {
		t.Errorf("meta = %+v", meta)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestTransportErrorExhaustsRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		hj := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Fatal(err)
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.FetchVersion(context.Background(), "serde", "1.0.0"); err == nil {
		t.Fatal("want error after retries exhaust")
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2 (initial + 1 retry)", got)
	}
}

func TestLinearBackOffSchedule(t *testing.T) {
	pol := &linearBackOff{step: backoffStep, maxRetries: 2}
	if got := pol.NextBackOff(); got != 200*time.Millisecond {
		t.Errorf("first backoff = %v", got)
	}
	if got := pol.NextBackOff(); got != 400*time.Millisecond {
		t.Errorf("second backoff = %v", got)
	}
	if got := pol.NextBackOff(); got >= 0 {
		t.Errorf("third backoff = %v, want Stop", got)
	}
	pol.Reset()
	if got := pol.NextBackOff(); got != 200*time.Millisecond {
		t.Errorf("backoff after reset = %v", got)
	}
}
