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

package allowlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeAllowlist(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allow.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRespectsExactPackageAndGlobal(t *testing.T) {
	path := writeAllowlist(t, `
[[allow.exact]]
crate = "foo"
version = "1.2.3"

[[allow.package]]
crate = "bar"
minimum_release_age = 3

[allow.global]
minutes = 5
`)

	allow, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if !allow.IsExactAllowed("foo", "1.2.3") {
		t.Error("foo@1.2.3 should be exact-allowed")
	}
	if allow.IsExactAllowed("foo", "1.2.4") {
		t.Error("foo@1.2.4 should not be exact-allowed")
	}

	perPackage := allow.PerPackageMinutes()
	if got := perPackage["bar"]; got != 3 {
		t.Errorf("per-package minutes for bar = %d, want 3", got)
	}
	if global, ok := allow.GlobalMinutes(); !ok || global != 5 {
		t.Errorf("global minutes = %d, %v, want 5, true", global, ok)
	}

	if got := allow.EffectiveMinutes("bar", 7); got != 3 {
		t.Errorf("EffectiveMinutes(bar, 7) = %d, want 3", got)
	}
	if got := allow.EffectiveMinutes("baz", 7); got != 5 {
		t.Errorf("EffectiveMinutes(baz, 7) = %d, want 5", got)
	}
}

func TestMinimumReleaseAgeWinsOverMinutes(t *testing.T) {
	path := writeAllowlist(t, `
[[allow.package]]
crate = "bar"
minimum_release_age = 3
minutes = 99

[allow.global]
minimum_release_age = 4
minutes = 88
`)

	allow, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := allow.PerPackageMinutes()["bar"]; got != 3 {
		t.Errorf("per-package minutes = %d, want minimum_release_age 3", got)
	}
	if global, _ := allow.GlobalMinutes(); global != 4 {
		t.Errorf("global minutes = %d, want minimum_release_age 4", global)
	}
}

func TestPackageWithoutValueIsOmitted(t *testing.T) {
	path := writeAllowlist(t, `
[[allow.package]]
crate = "bar"
`)

	allow, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := allow.PerPackageMinutes()["bar"]; ok {
		t.Error("rule without a value should not contribute a minimum")
	}
}

func TestMissingFileYieldsEmptyAllowlist(t *testing.T) {
	allow, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if allow.IsExactAllowed("foo", "1.0.0") {
		t.Error("empty allowlist should not exempt anything")
	}
	if got := allow.EffectiveMinutes("foo", 42); got != 42 {
		t.Errorf("EffectiveMinutes = %d, want the default 42", got)
	}
}

func TestParseErrorIsFatalWithPath(t *testing.T) {
	path := writeAllowlist(t, "[[allow.exact\ncrate = ")
	_, err := Load(path)
	if err == nil {
		t.Fatal("want parse error")
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q should name the file path", err)
	}
}

func TestZeroMinutesDisables(t *testing.T) {
	path := writeAllowlist(t, `
[[allow.package]]
crate = "bar"
minutes = 0
`)

	allow, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := allow.EffectiveMinutes("bar", 60); got != 0 {
		t.Errorf("EffectiveMinutes = %d, want 0", got)
	}
}
