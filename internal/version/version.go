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

// Package version provides version information for cargo-cooldown.
// The version is embedded from the VERSION file in this directory.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// version holds the current cargo-cooldown version, read from the embedded VERSION file.
// It is assigned during package initialization, so a linker -X setting for it
// has no effect.
var version = strings.TrimSpace(versionFile)

// Get returns the current cargo-cooldown version.
func Get() string {
	if version == "" {
		return "dev"
	}
	return version
}

// UserAgent returns the User-Agent string sent with registry API requests.
func UserAgent() string {
	return "cargo-cooldown/" + Get()
}
