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

package cargo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// PinResult is the outcome of a precise-pin attempt. Applied means the
// resolver accepted the pin and mutated the lockfile; otherwise Stdout and
// Stderr carry the resolver's diagnostic output for blocker parsing. Spawn
// failures travel on the error channel instead, so callers can tell "the
// resolver said no" apart from "could not speak to the resolver".
type PinResult struct {
	Applied bool
	Stdout  string
	Stderr  string
}

// TryPinPrecise asks Cargo to pin name from current to target.
func TryPinPrecise(ctx context.Context, name, current, target string) (PinResult, error) {
	spec := name + "@" + current
	cmd := exec.CommandContext(ctx, "cargo", "update", "-p", spec, "--precise", target)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return PinResult{Applied: true}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return PinResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}
	return PinResult{}, fmt.Errorf("cargo update -p %s --precise %s: %w", spec, target, err)
}

// Blocker is a package the resolver named as the reason a pin was rejected.
// Version is empty when the diagnostic carried only a name.
type Blocker struct {
	Name    string
	Version string
}

const blockerPrefix = "required by package `"

// ParseBlockers scans resolver output for lines containing `required by
// package \`name version\``, wherever the sentinel appears on the line (cargo
// indents it and may precede it with "..."). The version may carry a leading
// "v", which is stripped. Duplicates are dropped, keeping first-appearance
// order.
func ParseBlockers(stdout, stderr string) []Blocker {
	var blockers []Blocker
	seen := make(map[Blocker]struct{})

	add := func(b Blocker) {
		if _, dup := seen[b]; dup {
			return
		}
		seen[b] = struct{}{}
		blockers = append(blockers, b)
	}

	for _, stream := range []string{stdout, stderr} {
		for _, line := range strings.Split(stream, "\n") {
			_, rest, ok := strings.Cut(line, blockerPrefix)
			if !ok {
				continue
			}
			end := strings.IndexByte(rest, '`')
			if end < 0 {
				continue
			}
			inner := rest[:end]
			if idx := strings.LastIndexByte(inner, ' '); idx >= 0 {
				name := inner[:idx]
				ver := strings.TrimPrefix(inner[idx+1:], "v")
				add(Blocker{Name: name, Version: ver})
			} else {
				add(Blocker{Name: inner})
			}
		}
	}
	return blockers
}
