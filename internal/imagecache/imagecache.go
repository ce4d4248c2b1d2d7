// Package imagecache stores the images of one resolution level, keyed by
// file and edit command.
//
// Each file has at most one protected entry: the image of its active
// command, which is never evicted. All other entries live in a shared
// bounded LRU so that recently active states survive an undo or redo
// without recomputation.
package imagecache

import (
	"sync"

	"github.com/gogpu/quill/internal/cache"
	"github.com/gogpu/quill/internal/imaging"
)

// Key identifies a cached image.
type Key struct {
	Owner   uint64
	Command uint64
}

type protectedEntry struct {
	command uint64
	img     imaging.Image
}

// Cache is the image cache of one resolution level.
// It is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	protected map[uint64]protectedEntry
	bounded   *cache.LRU[Key, imaging.Image]
}

// New creates a cache holding at most capacity unprotected images.
func New(capacity int) *Cache {
	return &Cache{
		protected: make(map[uint64]protectedEntry),
		bounded:   cache.NewLRU[Key, imaging.Image](capacity),
	}
}

// Insert stores img for (owner, command). A protected insert demotes the
// owner's previously protected entry to the bounded cache.
func (c *Cache) Insert(owner, command uint64, img imaging.Image, protected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key{owner, command}
	if !protected {
		if p, ok := c.protected[owner]; ok && p.command == command {
			c.protected[owner] = protectedEntry{command, img}
			return
		}
		c.bounded.Set(key, img)
		return
	}
	c.bounded.Delete(key)
	c.demote(owner, command)
	c.protected[owner] = protectedEntry{command, img}
}

// Protect promotes a cached entry to the owner's protected slot and
// reports whether the entry exists.
func (c *Cache) Protect(owner, command uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.protected[owner]; ok && p.command == command {
		return true
	}
	img, ok := c.bounded.Delete(Key{owner, command})
	if !ok {
		return false
	}
	c.demote(owner, command)
	c.protected[owner] = protectedEntry{command, img}
	return true
}

// demote moves the protected entry of owner to the bounded cache unless it
// belongs to command. Command identities start at 1, so 0 demotes any
// entry. c.mu must be held.
func (c *Cache) demote(owner, command uint64) {
	p, ok := c.protected[owner]
	if !ok || (command != 0 && p.command == command) {
		return
	}
	delete(c.protected, owner)
	c.bounded.Set(Key{owner, p.command}, p.img)
}

// Unprotect moves the protected entry of owner, if any, to the bounded
// cache.
func (c *Cache) Unprotect(owner uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.demote(owner, 0)
}

// Purge drops the protected entry of owner.
func (c *Cache) Purge(owner uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.protected, owner)
}

// Remove deletes one entry, protected or not.
func (c *Cache) Remove(owner, command uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.protected[owner]; ok && p.command == command {
		delete(c.protected, owner)
	}
	c.bounded.Delete(Key{owner, command})
}

// RemoveOwner deletes every entry of owner.
func (c *Cache) RemoveOwner(owner uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.protected, owner)
	c.bounded.DeleteFunc(func(k Key, _ imaging.Image) bool { return k.Owner == owner })
}

// Image returns the cached image of (owner, command).
func (c *Cache) Image(owner, command uint64) (imaging.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.protected[owner]; ok && p.command == command {
		return p.img, true
	}
	return c.bounded.Get(Key{owner, command})
}

// IsProtected reports whether (owner, command) holds the protected slot.
func (c *Cache) IsProtected(owner, command uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.protected[owner]
	return ok && p.command == command
}

// Stats describes the cache occupancy.
type Stats struct {
	Protected int
	Bounded   cache.Stats
	Bytes     int
}

// Stats returns occupancy counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Protected: len(c.protected), Bounded: c.bounded.Stats()}
	for _, p := range c.protected {
		s.Bytes += p.img.ByteSize()
	}
	for _, k := range c.bounded.Keys() {
		if img, ok := c.bounded.Peek(k); ok {
			s.Bytes += img.ByteSize()
		}
	}
	return s
}
