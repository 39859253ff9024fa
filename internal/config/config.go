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

// Package config resolves cargo-cooldown settings from layered sources.
//
// # Resolution order
//
// Each setting takes the first value defined by, in order:
//
//  1. A COOLDOWN_* environment variable (highest)
//  2. The workspace-local cooldown.toml
//  3. $HOME/.cargo/cooldown.toml
//  4. The built-in default
//
// Config files use the lowercase key names (the env names without the
// COOLDOWN_ prefix); the full uppercase env names are accepted as aliases
// for backward compatibility, with the lowercase spelling winning when both
// appear. Relative paths in a file resolve against the file's directory.
// A malformed file is reported on stderr and treated as absent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/santosr2/cargo-cooldown/internal/secureio"
)

const (
	defaultRegistryAPI         = "https://crates.io/api/v1/"
	defaultRegistryIndex       = "registry+https://github.com/rust-lang/crates.io-index"
	defaultSparseRegistryIndex = "registry+sparse+https://index.crates.io/"

	defaultTTLSeconds  = 86_400
	defaultHTTPRetries = 2
	maxHTTPRetries     = 8

	workspaceFileName = "cooldown.toml"
)

// Mode controls what happens when the cooldown engine fails.
type Mode string

const (
	// ModeEnforce propagates engine failures and aborts the build.
	ModeEnforce Mode = "enforce"
	// ModeWarn logs engine failures and continues with the existing lockfile.
	ModeWarn Mode = "warn"
	// ModeOff disables the engine entirely.
	ModeOff Mode = "off"
)

// ParseMode maps a mode string to a Mode, defaulting to enforce.
func ParseMode(value string) Mode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "warn":
		return ModeWarn
	case "off":
		return ModeOff
	default:
		return ModeEnforce
	}
}

// Config holds the resolved cargo-cooldown settings.
type Config struct {
	CooldownMinutes   uint64
	Mode              Mode
	TTLSeconds        uint64
	AllowlistPath     string
	CacheDir          string
	OfflineOK         bool
	HTTPRetries       uint64
	Verbose           bool
	RegistryAPI       string
	AllowedRegistries []string
}

// Load resolves the configuration from the process environment, the
// workspace cooldown.toml, and the user-home .cargo/cooldown.toml.
func Load() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return loadFrom(os.Getenv, ".", home)
}

func loadFrom(getenv func(string) string, workspaceDir, homeDir string) *Config {
	files := make([]*fileConfig, 0, 2)
	if fc := loadFile(filepath.Join(workspaceDir, workspaceFileName)); fc != nil {
		files = append(files, fc)
	}
	if homeDir != "" {
		if fc := loadFile(filepath.Join(homeDir, ".cargo", workspaceFileName)); fc != nil {
			files = append(files, fc)
		}
	}
	l := &layers{getenv: getenv, files: files}

	cfg := &Config{
		Mode:              ModeEnforce,
		TTLSeconds:        defaultTTLSeconds,
		HTTPRetries:       defaultHTTPRetries,
		RegistryAPI:       defaultRegistryAPI,
		AllowedRegistries: defaultAllowedRegistries(),
	}

	if v, ok := l.uint("COOLDOWN_MINUTES", "minutes"); ok {
		cfg.CooldownMinutes = v
	}
	if v, _, ok := l.str("COOLDOWN_MODE", "mode"); ok {
		cfg.Mode = ParseMode(v)
	}
	if v, ok := l.uint("COOLDOWN_TTL_SECONDS", "ttl_seconds"); ok {
		cfg.TTLSeconds = v
	}
	if v, baseDir, ok := l.str("COOLDOWN_ALLOWLIST_PATH", "allowlist_path"); ok {
		cfg.AllowlistPath = resolveRelative(v, baseDir)
	}
	if v, baseDir, ok := l.str("COOLDOWN_CACHE_DIR", "cache_dir"); ok {
		cfg.CacheDir = resolveRelative(v, baseDir)
	}
	if v, ok := l.boolean("COOLDOWN_OFFLINE_OK", "offline_ok"); ok {
		cfg.OfflineOK = v
	}
	if v, ok := l.uint("COOLDOWN_HTTP_RETRIES", "http_retries"); ok && v <= maxHTTPRetries {
		cfg.HTTPRetries = v
	}
	if v, ok := l.boolean("COOLDOWN_VERBOSE", "verbose"); ok {
		cfg.Verbose = v
	}
	if v, _, ok := l.str("COOLDOWN_REGISTRY_API", "registry_api"); ok {
		cfg.RegistryAPI = v
	}
	if v, _, ok := l.str("COOLDOWN_REGISTRY_INDEX", "registry_index"); ok {
		cfg.AllowedRegistries = parseRegistryList(v)
	}

	return cfg
}

// IsRegistryAllowed reports whether a cargo registry source identifier is in
// the allowed set. Identifiers compare as opaque strings; they encode
// protocol variants (git vs sparse) that URL parsing would conflate.
func (c *Config) IsRegistryAllowed(source string) bool {
	for _, allowed := range c.AllowedRegistries {
		if allowed == source {
			return true
		}
	}
	return false
}

// fileConfig is one parsed config file plus the directory its relative
// paths resolve against.
type fileConfig struct {
	values map[string]any
	dir    string
}

// loadFile parses a config file, returning nil when the file is absent or
// malformed. Malformed files are diagnosed on stderr, never fatal.
func loadFile(path string) *fileConfig {
	data, err := secureio.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "cargo-cooldown: ignoring unreadable config %s: %v\n", path, err)
		}
		return nil
	}

	var values map[string]any
	if err := toml.Unmarshal(data, &values); err != nil {
		fmt.Fprintf(os.Stderr, "cargo-cooldown: ignoring malformed config %s: %v\n", path, err)
		return nil
	}

	return &fileConfig{values: values, dir: filepath.Dir(path)}
}

// lookup returns the raw value for a setting, preferring the lowercase key
// over its uppercase env-name alias.
func (fc *fileConfig) lookup(fileKey, envKey string) (any, bool) {
	if v, ok := fc.values[fileKey]; ok {
		return v, true
	}
	if v, ok := fc.values[envKey]; ok {
		return v, true
	}
	return nil, false
}

// layers walks the priority chain: environment, then each file in order.
type layers struct {
	getenv func(string) string
	files  []*fileConfig
}

// str returns the resolved string for a setting and the directory relative
// paths should resolve against ("" for environment values).
func (l *layers) str(envKey, fileKey string) (value, baseDir string, ok bool) {
	if v := l.getenv(envKey); v != "" {
		return v, "", true
	}
	for _, fc := range l.files {
		if raw, found := fc.lookup(fileKey, envKey); found {
			if s, coerced := coerceString(raw); coerced {
				return s, fc.dir, true
			}
		}
	}
	return "", "", false
}

func (l *layers) uint(envKey, fileKey string) (uint64, bool) {
	raw, _, ok := l.str(envKey, fileKey)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (l *layers) boolean(envKey, fileKey string) (bool, bool) {
	raw, _, ok := l.str(envKey, fileKey)
	if !ok {
		return false, false
	}
	return parseBool(raw), true
}

// parseBool accepts "1" or case-insensitive "true"; everything else is false.
func parseBool(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}

func coerceString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

func resolveRelative(path, baseDir string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func normalizeRegistryIndex(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "registry+") {
		return trimmed
	}
	return "registry+" + trimmed
}

func parseRegistryList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, normalizeRegistryIndex(part))
	}
	if len(out) == 0 {
		return defaultAllowedRegistries()
	}
	return out
}

func defaultAllowedRegistries() []string {
	return []string{defaultRegistryIndex, defaultSparseRegistryIndex}
}
