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

// Package cache implements the disk-backed TTL cache for registry responses.
//
// Entries are JSON envelopes carrying a wall-clock write timestamp; a read
// whose entry is older than the TTL reports a miss. The disk store persists
// across runs; an in-process ttlcache layer fronts it within a run. Expiry is
// always decided against the envelope timestamp so both layers agree, and so
// tests can drive expiry with a fake clock. Read errors demote to misses;
// write errors are returned for the caller to log. Concurrent writers are
// last-writer-wins per key.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/santosr2/cargo-cooldown/internal/secureio"
)

// Cache is a disk-backed key-value store with TTL expiry.
type Cache struct {
	root  string
	ttl   time.Duration
	clock clockwork.Clock
	log   *slog.Logger
	hot   *ttlcache.Cache[string, []byte]
}

type envelope struct {
	WrittenAt time.Time       `json:"written_at"`
	Payload   json.RawMessage `json:"payload"`
}

// New opens a cache rooted at root, or at the platform user cache directory
// when root is empty.
func New(root string, ttl time.Duration, clock clockwork.Clock, log *slog.Logger) (*Cache, error) {
	if root == "" {
		userCache, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("determine user cache directory: %w", err)
		}
		root = filepath.Join(userCache, "cargo-cooldown")
	}
	if err := secureio.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory %s: %w", root, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}

	hot := ttlcache.New(
		ttlcache.WithTTL[string, []byte](ttl),
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)

	return &Cache{root: root, ttl: ttl, clock: clock, log: log, hot: hot}, nil
}

// Get decodes the cached payload for key into out, reporting whether a fresh
// entry was found. Expired, corrupt, or unreadable entries are misses.
func (c *Cache) Get(key string, out any) bool {
	if item := c.hot.Get(key); item != nil {
		if c.decodeFresh(key, item.Value(), out) {
			return true
		}
	}

	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Debug("cache read failed; treating as miss", "key", key, "error", err)
		}
		return false
	}
	return c.decodeFresh(key, data, out)
}

// Put stores the value for key on disk and in the hot layer.
func (c *Cache) Put(key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	data, err := json.Marshal(envelope{WrittenAt: c.clock.Now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode cache envelope %s: %w", key, err)
	}

	c.hot.Set(key, data, ttlcache.DefaultTTL)

	if err := secureio.WriteFile(c.entryPath(key), data, 0o600); err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

func (c *Cache) decodeFresh(key string, data []byte, out any) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("cache entry corrupt; treating as miss", "key", key, "error", err)
		return false
	}
	if c.clock.Now().Sub(env.WrittenAt) > c.ttl {
		return false
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		c.log.Debug("cache payload mismatch; treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

// entryPath maps an opaque key to a file under the cache root. The sanitized
// key keeps entries greppable; the hash suffix keeps distinct keys distinct.
func (c *Cache) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := sanitizeKey(key) + "-" + hex.EncodeToString(sum[:4]) + ".json"
	return filepath.Join(c.root, name)
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	const maxLen = 100
	s := b.String()
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
