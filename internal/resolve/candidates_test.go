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

package resolve

import (
	"reflect"
	"testing"
	"time"

	"github.com/santosr2/cargo-cooldown/internal/registry"
)

func TestFilterCandidatesDropsFreshAndYanked(t *testing.T) {
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	versions := []registry.VersionMeta{
		{Num: "1.2.3", CreatedAt: time.Date(2024, 9, 30, 23, 50, 0, 0, time.UTC)},
		{Num: "1.2.2", CreatedAt: time.Date(2024, 9, 30, 22, 0, 0, 0, time.UTC)},
		{Num: "1.2.1", CreatedAt: time.Date(2024, 9, 30, 20, 0, 0, 0, time.UTC), Yanked: true},
	}

	candidates := FilterCandidates(versions, 30, now)
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
	if candidates[0].Version != "1.2.2" {
		t.Errorf("candidate = %q, want 1.2.2", candidates[0].Version)
	}
}

func TestFilterCandidatesSortsNewestFirst(t *testing.T) {
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	versions := []registry.VersionMeta{
		{Num: "1.0.0", CreatedAt: now.Add(-72 * time.Hour)},
		{Num: "1.2.0", CreatedAt: now.Add(-24 * time.Hour)},
		{Num: "1.1.0", CreatedAt: now.Add(-48 * time.Hour)},
	}

	candidates := FilterCandidates(versions, 60, now)
	got := make([]string, len(candidates))
	for i, c := range candidates {
		got[i] = c.Version
	}
	want := []string{"1.2.0", "1.1.0", "1.0.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestFilterCandidatesIsIdempotent(t *testing.T) {
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	versions := []registry.VersionMeta{
		{Num: "1.2.0", CreatedAt: now.Add(-24 * time.Hour)},
		{Num: "1.1.0", CreatedAt: now.Add(-48 * time.Hour)},
		{Num: "1.0.0", CreatedAt: now.Add(-10 * time.Minute)},
	}

	once := FilterCandidates(versions, 60, now)
	asMeta := make([]registry.VersionMeta, len(once))
	for i, c := range once {
		asMeta[i] = registry.VersionMeta{Num: c.Version, CreatedAt: c.CreatedAt}
	}
	twice := FilterCandidates(asMeta, 60, now)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second filter changed the result: %v vs %v", once, twice)
	}
}

func TestFilterCandidatesBoundary(t *testing.T) {
	now := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	versions := []registry.VersionMeta{
		// Exactly at the cutoff: old enough.
		{Num: "1.0.0", CreatedAt: now.Add(-30 * time.Minute)},
		// One second inside the window: too fresh.
		{Num: "1.0.1", CreatedAt: now.Add(-30*time.Minute + time.Second)},
	}
	candidates := FilterCandidates(versions, 30, now)
	if len(candidates) != 1 || candidates[0].Version != "1.0.0" {
		t.Errorf("candidates = %v", candidates)
	}
}

func TestSatisfiesAll(t *testing.T) {
	tests := []struct {
		name         string
		version      string
		requirements []string
		want         bool
	}{
		{"no requirements", "1.2.3", nil, true},
		{"caret match", "1.2.3", []string{"^1.2"}, true},
		{"caret mismatch", "2.0.0", []string{"^1.2"}, false},
		{"exact match", "1.2.3", []string{"=1.2.3"}, true},
		{"exact mismatch", "1.2.2", []string{"=1.2.3"}, false},
		{"all must hold", "1.4.0", []string{"^1.2", ">=1.5"}, false},
		{"range", "0.5.0", []string{">=0.4, <0.6"}, true},
		{"unparsable version", "not-a-version", []string{"^1.0"}, false},
		{"unparsable requirement skipped", "1.2.3", []string{"???", "^1.2"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SatisfiesAll(tt.version, tt.requirements); got != tt.want {
				t.Errorf("SatisfiesAll(%q, %v) = %v, want %v", tt.version, tt.requirements, got, tt.want)
			}
		})
	}
}

func TestIsExactRequirement(t *testing.T) {
	tests := []struct {
		req  string
		want bool
	}{
		{"=1.2.3", true},
		{"= 1.2.3", true},
		{"=1.2", true},
		{"^1.2.3", false},
		{"~1.2.3", false},
		{">=1.2.3", false},
		{"1.2.3", false},
		{"=1.2.3, <2", false},
		{"=", false},
		{"==1.2.3", false},
	}

	for _, tt := range tests {
		if got := IsExactRequirement(tt.req); got != tt.want {
			t.Errorf("IsExactRequirement(%q) = %v, want %v", tt.req, got, tt.want)
		}
	}
}

func TestOlderThan(t *testing.T) {
	tests := []struct {
		candidate string
		current   string
		want      bool
	}{
		{"1.2.2", "1.2.3", true},
		{"1.2.3", "1.2.3", false},
		{"1.2.4", "1.2.3", false},
		{"weird", "1.2.3", true},
		{"1.0.0", "weird", true},
	}
	for _, tt := range tests {
		if got := OlderThan(tt.candidate, tt.current); got != tt.want {
			t.Errorf("OlderThan(%q, %q) = %v, want %v", tt.candidate, tt.current, got, tt.want)
		}
	}
}
