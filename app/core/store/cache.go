package store

import (
	"sync"

	"dayline/app/core/checklist"
)

// Cache is a read-through, write-through layer over Records. The store is
// the source of truth; the cache only saves repeated decodes on the hot
// per-event path. Reload forces a fresh read when a caller needs to
// reconcile against a possibly newer persisted version.
type Cache struct {
	mu      sync.RWMutex
	records map[int64]*checklist.UserRecord
	chatMu  map[int64]*sync.Mutex
	backing *Records
}

func NewCache(backing *Records) *Cache {
	return &Cache{
		records: map[int64]*checklist.UserRecord{},
		chatMu:  map[int64]*sync.Mutex{},
		backing: backing,
	}
}

// LockChat serializes one chat's load-mutate-persist sequence. Cached
// records are shared pointers, so every entry point that mutates them (the
// update dispatcher, midnight timers, pending timeouts, the sweep job) takes
// this lock before Get and holds it through the final Put.
func (c *Cache) LockChat(chatID int64) (release func()) {
	c.mu.Lock()
	m := c.chatMu[chatID]
	if m == nil {
		m = &sync.Mutex{}
		c.chatMu[chatID] = m
	}
	c.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Get returns the cached record, reading through to the store on a miss.
func (c *Cache) Get(chatID int64) (*checklist.UserRecord, error) {
	c.mu.RLock()
	rec, ok := c.records[chatID]
	c.mu.RUnlock()
	if ok {
		return rec, nil
	}
	return c.Reload(chatID)
}

// Reload bypasses the cache, reads the persisted record and re-caches it.
func (c *Cache) Reload(chatID int64) (*checklist.UserRecord, error) {
	rec, err := c.backing.Get(chatID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.records[chatID] = rec
	c.mu.Unlock()
	return rec, nil
}

// Persisted reads the stored record without touching the cache. Used by the
// create-then-re-read race guards, which need to see a concurrent writer's
// version while keeping their own in-flight instance.
func (c *Cache) Persisted(chatID int64) (*checklist.UserRecord, error) {
	return c.backing.Get(chatID)
}

// Put persists the record and then refreshes the cache entry.
func (c *Cache) Put(rec *checklist.UserRecord) error {
	rec.Sanitize()
	if err := c.backing.Put(rec); err != nil {
		return err
	}
	c.mu.Lock()
	c.records[rec.ChatID] = rec
	c.mu.Unlock()
	return nil
}

// Delete removes the record from the store and the cache.
func (c *Cache) Delete(chatID int64) error {
	if err := c.backing.Delete(chatID); err != nil {
		return err
	}
	c.Invalidate(chatID)
	return nil
}

// Invalidate drops the cache entry without touching the store.
func (c *Cache) Invalidate(chatID int64) {
	c.mu.Lock()
	delete(c.records, chatID)
	c.mu.Unlock()
}

// ChatIDs lists every known chat id from the backing store.
func (c *Cache) ChatIDs() ([]int64, error) {
	return c.backing.ChatIDs()
}
