package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// BlobCache keeps recently read blobs in memory in front of an optional
// DiskCache. A BlobCache with zero entries and no disk tier caches nothing.
type BlobCache struct {
	mem  *lru.Cache
	disk *DiskCache
}

// NewBlobCache creates a blob cache holding up to entries blobs in memory.
// disk may be nil.
func NewBlobCache(entries int, disk *DiskCache) (*BlobCache, error) {
	c := &BlobCache{disk: disk}
	if entries > 0 {
		mem, err := lru.New(entries)
		if err != nil {
			return nil, err
		}
		c.mem = mem
	}
	return c, nil
}

// Get returns the blob for id from memory, then disk. A disk hit is promoted
// to memory.
func (c *BlobCache) Get(id string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	if c.mem != nil {
		if v, ok := c.mem.Get(id); ok {
			return v.([]byte), true
		}
	}
	if c.disk != nil {
		if data, ok := c.disk.Get(id); ok {
			if c.mem != nil {
				c.mem.Add(id, data)
			}
			return data, true
		}
	}
	return nil, false
}

// Put stores a blob in every tier.
func (c *BlobCache) Put(id string, data []byte) error {
	if c == nil {
		return nil
	}
	if c.mem != nil {
		c.mem.Add(id, data)
	}
	if c.disk != nil {
		return c.disk.Put(id, data)
	}
	return nil
}

// Len returns the number of blobs held in memory.
func (c *BlobCache) Len() int {
	if c == nil || c.mem == nil {
		return 0
	}
	return c.mem.Len()
}
