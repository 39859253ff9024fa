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

// Package cargo drives the Cargo subprocesses the cooldown engine depends
// on: graph introspection via `cargo metadata`, lockfile generation, precise
// pinning via `cargo update --precise`, and the final passthrough command.
package cargo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
)

// Metadata is the structured output of `cargo metadata --format-version 1`,
// reduced to the fields the engine reads.
type Metadata struct {
	Packages []Package `json:"packages"`
	Resolve  *Resolve  `json:"resolve"`
}

// Package is one package table entry.
type Package struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	// Source is the registry source identifier, empty for path dependencies.
	Source       string       `json:"source"`
	Dependencies []Dependency `json:"dependencies"`
}

// Dependency is a manifest-level dependency declaration.
type Dependency struct {
	Name string `json:"name"`
	Req  string `json:"req"`
	// Rename carries a manifest-level `package = "..."` rename, empty when absent.
	Rename string `json:"rename"`
}

// Resolve is the resolved dependency graph.
type Resolve struct {
	Nodes []Node `json:"nodes"`
}

// Node is one resolved package occurrence with its outbound edges.
type Node struct {
	ID   string    `json:"id"`
	Deps []NodeDep `json:"deps"`
}

// NodeDep is an edge to another node; Name is the declared (possibly
// renamed) dependency name, Pkg the target package id.
type NodeDep struct {
	Name string `json:"name"`
	Pkg  string `json:"pkg"`
}

// ReadMetadata invokes `cargo metadata` and decodes the snapshot. The engine
// re-reads on every outer iteration because a pin changes the selection.
func ReadMetadata(ctx context.Context) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, "cargo", "metadata", "--format-version", "1")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("cargo metadata: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(stdout.Bytes(), &md); err != nil {
		return nil, fmt.Errorf("decode cargo metadata output: %w", err)
	}
	return &md, nil
}

// EnsureLockfile generates Cargo.lock when it does not exist yet.
func EnsureLockfile(ctx context.Context) error {
	if _, err := os.Stat("Cargo.lock"); err == nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, "cargo", "generate-lockfile")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("generate Cargo.lock via `cargo generate-lockfile`: %w", err)
	}
	return nil
}

// FindManifestDependency matches a resolved edge back to the manifest
// declaration that produced it, honoring renames: the declared edge name may
// be the rename, the declaration name, or the target package's real name.
func FindManifestDependency(deps []Dependency, depName, packageName string) *Dependency {
	for i := range deps {
		d := &deps[i]
		if d.Rename != "" && d.Rename == depName {
			return d
		}
		if d.Name == depName || d.Name == packageName {
			return d
		}
	}
	return nil
}
