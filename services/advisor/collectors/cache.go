// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collectors

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/observability"
)

// Key identifies one cached signal bundle. Two fetches share an entry
// only when campaign, signal kind, and analysis window all match.
type Key struct {
	Campaign datatypes.CampaignID
	Kind     datatypes.BundleKind
	Window   datatypes.Window
}

// hash computes a stable SHA-256 cache key. Component separators keep
// distinct campaigns from colliding on concatenation.
func (k Key) hash() string {
	h := sha256.New()
	h.Write([]byte(k.Campaign))
	h.Write([]byte("|"))
	h.Write([]byte(k.Kind))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatInt(k.Window.Start.UnixNano(), 10)))
	h.Write([]byte("|"))
	h.Write([]byte(strconv.FormatInt(k.Window.End.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is an advisory TTL cache for signal bundles with LRU eviction
// and an optional persistent Badger tier.
//
// Description:
//
//	The cache sits between collectors and their providers. The memory
//	tier absorbs repeated reads within one process; the Badger tier,
//	when configured, survives restarts and is consulted on memory
//	misses. Concurrent misses for the same key are coalesced into a
//	single provider fetch via singleflight.
//
//	The cache is strictly advisory: any storage fault is logged and
//	treated as a miss, so a broken cache degrades to direct fetches
//	rather than failed collections.
//
// Thread Safety: This type is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int

	db    *badger.DB
	group singleflight.Group
	log   *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// cacheEntry stores one bundle in the memory tier.
type cacheEntry struct {
	key       string
	bundle    datatypes.SignalBundle
	expiresAt time.Time
}

// bundleEnvelope wraps a bundle for the persistent tier. The kind tag
// tells the decoder which concrete type to unmarshal into.
type bundleEnvelope struct {
	Kind    datatypes.BundleKind `json:"kind"`
	Payload json.RawMessage      `json:"payload"`
}

// NewCache creates a memory-only cache with TTL expiration and LRU
// eviction at maxSize entries. Both arguments must be > 0.
func NewCache(ttl time.Duration, maxSize int, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		log:     log,
	}
}

// WithBadger attaches a persistent tier. The caller owns the DB
// lifecycle; the cache never closes it.
func (c *Cache) WithBadger(db *badger.DB) *Cache {
	c.db = db
	return c
}

// GetOrCollect returns the cached bundle for key, or runs fetch and
// caches its result. Concurrent callers with the same key share one
// fetch. Fetch errors are returned as-is and nothing is cached.
func (c *Cache) GetOrCollect(
	ctx context.Context,
	key Key,
	fetch func(ctx context.Context) (datatypes.SignalBundle, error),
) (datatypes.SignalBundle, error) {
	if b, ok := c.Get(key); ok {
		return b, nil
	}

	v, err, _ := c.group.Do(key.hash(), func() (any, error) {
		// A concurrent winner may have populated the entry while we
		// waited on the flight group.
		if b, ok := c.Get(key); ok {
			return b, nil
		}
		b, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(datatypes.SignalBundle), nil
}

// Get retrieves a valid cached bundle, consulting the memory tier and
// then the persistent tier. Persistent hits are promoted to memory.
func (c *Cache) Get(key Key) (datatypes.SignalBundle, bool) {
	hashed := key.hash()

	c.mu.Lock()
	elem, exists := c.entries[hashed]
	if exists {
		entry := elem.Value.(*cacheEntry)
		if time.Now().After(entry.expiresAt) {
			// Expired - remove lazily
			c.removeElement(elem)
		} else {
			c.lru.MoveToFront(elem)
			c.mu.Unlock()
			c.hits.Add(1)
			observability.RecordCacheLookup(true)
			return entry.bundle, true
		}
	}
	c.mu.Unlock()

	if b, ok := c.getPersistent(hashed, key.Kind); ok {
		c.setMemory(hashed, b)
		c.hits.Add(1)
		observability.RecordCacheLookup(true)
		return b, true
	}

	c.misses.Add(1)
	observability.RecordCacheLookup(false)
	return nil, false
}

// Set stores a bundle in both tiers. Nil bundles are ignored.
func (c *Cache) Set(key Key, bundle datatypes.SignalBundle) {
	if bundle == nil {
		return
	}
	hashed := key.hash()
	c.setMemory(hashed, bundle)
	c.setPersistent(hashed, bundle)
}

// Size returns the number of entries in the memory tier.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Hits returns the total number of cache hits across both tiers.
func (c *Cache) Hits() int64 { return c.hits.Load() }

// Misses returns the total number of cache misses.
func (c *Cache) Misses() int64 { return c.misses.Load() }

// setMemory inserts or refreshes a memory-tier entry, evicting the
// least recently used entries when at capacity.
func (c *Cache) setMemory(hashed string, bundle datatypes.SignalBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[hashed]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.bundle = bundle
		entry.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{
		key:       hashed,
		bundle:    bundle,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.entries[hashed] = c.lru.PushFront(entry)
}

// getPersistent looks up the Badger tier. Any fault is a miss.
func (c *Cache) getPersistent(hashed string, kind datatypes.BundleKind) (datatypes.SignalBundle, bool) {
	if c.db == nil {
		return nil, false
	}

	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(hashed))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			c.log.Warn("signal cache read failed", "error", err)
		}
		return nil, false
	}

	b, err := decodeBundle(raw, kind)
	if err != nil {
		c.log.Warn("signal cache entry undecodable", "kind", kind, "error", err)
		return nil, false
	}
	return b, true
}

// setPersistent writes to the Badger tier with the cache TTL. Write
// failures are logged and otherwise ignored.
func (c *Cache) setPersistent(hashed string, bundle datatypes.SignalBundle) {
	if c.db == nil {
		return
	}

	raw, err := encodeBundle(bundle)
	if err != nil {
		c.log.Warn("signal cache encode failed", "kind", bundle.Kind(), "error", err)
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(hashed), raw).WithTTL(c.ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		c.log.Warn("signal cache write failed", "kind", bundle.Kind(), "error", err)
	}
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *Cache) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from both map and list.
// Must be called with lock held.
func (c *Cache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.lru.Remove(elem)
}

// encodeBundle serializes a bundle into a kind-tagged envelope.
func encodeBundle(b datatypes.SignalBundle) ([]byte, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(bundleEnvelope{Kind: b.Kind(), Payload: payload})
}

// decodeBundle reverses encodeBundle. The expected kind guards against
// a stale entry written under a different key scheme.
func decodeBundle(raw []byte, expect datatypes.BundleKind) (datatypes.SignalBundle, error) {
	var env bundleEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Kind != expect {
		return nil, fmt.Errorf("envelope kind %q, want %q", env.Kind, expect)
	}

	var b datatypes.SignalBundle
	switch env.Kind {
	case datatypes.KindPerformance:
		b = &datatypes.PerformanceMetrics{}
	case datatypes.KindCreative:
		b = &datatypes.CreativeHealth{}
	case datatypes.KindCompetitive:
		b = &datatypes.CompetitiveSignals{}
	case datatypes.KindAudience:
		b = &datatypes.AudienceSignals{}
	case datatypes.KindHistory:
		b = &datatypes.HistoricalPattern{}
	default:
		return nil, fmt.Errorf("unknown bundle kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, b); err != nil {
		return nil, err
	}
	return b, nil
}
