// Package cache provides the key-value cache behind normalization and
// extraction results. The port is deliberately error-free: a cache
// problem degrades to a miss, never to a failed pipeline stage.
package cache

import (
	"crypto/sha256"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is the KV port used by the normalizer and the pipeline.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Flush()
}

// Default TTLs per concern.
const (
	DefaultTTL    = time.Hour
	NormalizeTTL  = 24 * time.Hour
	ExtractionTTL = 12 * time.Hour
)

// NormalizeKey identifies a model call by model name and content hash,
// so identical content never hits the model twice.
func NormalizeKey(model, content string) string {
	return "llm:" + model + ":" + shortHash(content)
}

// ExtractionKey identifies a parsed document by type and content hash,
// so unchanged bytes are never re-parsed.
func ExtractionKey(docType, content string) string {
	return "extraction:" + docType + ":" + shortHash(content)
}

func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)[:16]
}

// Memory is an in-process Cache backed by go-cache.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates a memory cache with the given default TTL. Expired
// entries are purged every 10 minutes.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Memory{c: gocache.New(defaultTTL, 10*time.Minute)}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	return b, true
}

func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(key, value, ttl)
}

func (m *Memory) Delete(key string) {
	m.c.Delete(key)
}

func (m *Memory) Flush() {
	m.c.Flush()
}

// Len reports the number of live entries, expired included until purge.
func (m *Memory) Len() int {
	return m.c.ItemCount()
}

// SaveFile snapshots the cache to path so a later process starts warm.
// Entries keep their absolute expiry times.
func (m *Memory) SaveFile(path string) error {
	return m.c.SaveFile(path)
}

// LoadFile merges a snapshot written by SaveFile. Entries that expired
// since the save die on first access.
func (m *Memory) LoadFile(path string) error {
	return m.c.LoadFile(path)
}
