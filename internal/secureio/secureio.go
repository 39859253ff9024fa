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

// Package secureio provides file I/O with path validation for the
// operator-supplied paths cargo-cooldown reads and writes (config files,
// allowlists, cache entries).
package secureio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath validates a path and resolves it to an absolute, cleaned form.
// Relative paths are allowed (workspace config files are addressed relative
// to the working directory) but traversal components are rejected.
func ResolvePath(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains directory traversal: %s", path)
	}

	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		abs, err := filepath.Abs(cleanPath)
		if err != nil {
			return "", fmt.Errorf("resolve path %s: %w", path, err)
		}
		cleanPath = abs
	}

	return cleanPath, nil
}

// ReadFile reads a file after validating the path.
func ReadFile(path string) ([]byte, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(resolved) // #nosec G304 - path validated above
}

// WriteFile writes a file after validating the path.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	resolved, err := ResolvePath(path)
	if err != nil {
		return err
	}
	return os.WriteFile(resolved, data, perm) // #nosec G306 - secure permissions enforced
}

// MkdirAll creates a directory tree after validating the path.
func MkdirAll(path string, perm os.FileMode) error {
	resolved, err := ResolvePath(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, perm)
}
