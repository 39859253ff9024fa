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

// Package resolve provides candidate filtering and semver requirement
// helpers for the cooldown engine.
package resolve

import (
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/santosr2/cargo-cooldown/internal/registry"
)

// Candidate is a release that passed the cooldown and yank filters.
type Candidate struct {
	Version   string
	CreatedAt time.Time
}

// FilterCandidates drops yanked releases and releases younger than
// minimumMinutes relative to now, returning the survivors newest-first.
// The function is pure and idempotent.
func FilterCandidates(versions []registry.VersionMeta, minimumMinutes uint64, now time.Time) []Candidate {
	cutoff := now.Add(-time.Duration(minimumMinutes) * time.Minute)
	filtered := make([]Candidate, 0, len(versions))
	for _, meta := range versions {
		if meta.Yanked || meta.CreatedAt.After(cutoff) {
			continue
		}
		filtered = append(filtered, Candidate{Version: meta.Num, CreatedAt: meta.CreatedAt})
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	return filtered
}

// SatisfiesAll reports whether version matches every requirement. An
// unparsable version satisfies nothing; an unparsable requirement is skipped
// because it cannot be evaluated.
func SatisfiesAll(version string, requirements []string) bool {
	if len(requirements) == 0 {
		return true
	}
	parsed, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	for _, req := range requirements {
		constraint, err := semver.NewConstraint(req)
		if err != nil {
			continue
		}
		if !constraint.Check(parsed) {
			return false
		}
	}
	return true
}

// IsExactRequirement reports whether a cargo requirement pins a single exact
// version (the "=X" form). Exact requirements prevent the child from moving
// until the parent does.
func IsExactRequirement(req string) bool {
	req = strings.TrimSpace(req)
	if strings.Contains(req, ",") {
		return false
	}
	if !strings.HasPrefix(req, "=") {
		return false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(req, "="))
	if rest == "" || strings.HasPrefix(rest, "=") {
		return false
	}
	_, err := semver.NewVersion(rest)
	return err == nil
}

// OlderThan reports whether candidate sorts strictly before current. A
// candidate that does not parse is kept, mirroring the registry's own
// leniency about non-semver version strings.
func OlderThan(candidate, current string) bool {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return true
	}
	cand, err := semver.NewVersion(candidate)
	if err != nil {
		return true
	}
	return cand.LessThan(cur)
}
