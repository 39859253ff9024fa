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

// Package allowlist loads cooldown exemption rules from a TOML file.
//
// Three rule kinds exist: exact (a crate@version fully exempt from the
// cooldown), package (a narrower minimum age for one crate), and global (a
// narrower minimum age for every crate). The smallest applicable minimum
// wins, and zero disables the cooldown for that crate.
package allowlist

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/santosr2/cargo-cooldown/internal/secureio"
)

// DefaultFileName is consulted in the working directory when no explicit
// allowlist path is configured.
const DefaultFileName = "cooldown-allowlist.toml"

// Allowlist holds the parsed exemption rules.
type Allowlist struct {
	Allow Section `toml:"allow"`
}

// Section groups the three rule kinds under the [allow] table.
type Section struct {
	Exact   []ExactRule   `toml:"exact"`
	Package []PackageRule `toml:"package"`
	Global  *GlobalRule   `toml:"global"`
}

// ExactRule exempts one crate release entirely, regardless of age.
type ExactRule struct {
	Crate   string `toml:"crate"`
	Version string `toml:"version"`
}

// PackageRule narrows the minimum release age for one crate. Both the
// preferred key (minimum_release_age) and the legacy key (minutes) are
// accepted; minimum_release_age wins when both are present.
type PackageRule struct {
	Crate             string  `toml:"crate"`
	MinimumReleaseAge *uint64 `toml:"minimum_release_age"`
	Minutes           *uint64 `toml:"minutes"`
}

// GlobalRule narrows the minimum release age for every crate.
type GlobalRule struct {
	MinimumReleaseAge *uint64 `toml:"minimum_release_age"`
	Minutes           *uint64 `toml:"minutes"`
}

// Load reads the allowlist at path, falling back to DefaultFileName in the
// working directory when path is empty. A missing file yields an empty
// allowlist; a parse failure is fatal with the file path in the message.
func Load(path string) (*Allowlist, error) {
	if path == "" {
		path = DefaultFileName
	}

	data, err := secureio.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("read allowlist at %s: %w", path, err)
	}

	var allow Allowlist
	if err := toml.Unmarshal(data, &allow); err != nil {
		return nil, fmt.Errorf("parse allowlist at %s: %w", path, err)
	}
	return &allow, nil
}

// IsExactAllowed reports whether name@version is fully exempt.
func (a *Allowlist) IsExactAllowed(name, version string) bool {
	for _, entry := range a.Allow.Exact {
		if entry.Crate == name && entry.Version == version {
			return true
		}
	}
	return false
}

// PerPackageMinutes returns the per-crate minimums, keyed by crate name.
// Crates whose rule carries no value are omitted.
func (a *Allowlist) PerPackageMinutes() map[string]uint64 {
	out := make(map[string]uint64, len(a.Allow.Package))
	for _, rule := range a.Allow.Package {
		if minutes, ok := effectiveMinutes(rule.MinimumReleaseAge, rule.Minutes); ok {
			out[rule.Crate] = minutes
		}
	}
	return out
}

// GlobalMinutes returns the global minimum, when one is configured.
func (a *Allowlist) GlobalMinutes() (uint64, bool) {
	if a.Allow.Global == nil {
		return 0, false
	}
	return effectiveMinutes(a.Allow.Global.MinimumReleaseAge, a.Allow.Global.Minutes)
}

// EffectiveMinutes computes the minimum age for a crate given the configured
// default: the smallest of {default, global, per-package}.
func (a *Allowlist) EffectiveMinutes(name string, defaultMinutes uint64) uint64 {
	effective := defaultMinutes
	if global, ok := a.GlobalMinutes(); ok && global < effective {
		effective = global
	}
	if minutes, ok := a.PerPackageMinutes()[name]; ok && minutes < effective {
		effective = minutes
	}
	return effective
}

func effectiveMinutes(preferred, legacy *uint64) (uint64, bool) {
	if preferred != nil {
		return *preferred, true
	}
	if legacy != nil {
		return *legacy, true
	}
	return 0, false
}
