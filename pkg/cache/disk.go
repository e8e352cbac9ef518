package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// fileName is the on-disk name for a blob id. Ids come from the server, so
// they are hashed rather than used as paths.
func fileName(id string) string {
	sum := blake3.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func isFileName(name string) bool {
	if len(name) != 64 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

type diskEntry struct {
	path       string
	size       int64
	lastAccess time.Time
}

// DiskCache stores blobs as files in a directory, bounded by total size.
// When full, the least recently accessed blobs are evicted first.
type DiskCache struct {
	dir     string
	maxSize int64

	mu sync.Mutex
	// entries is keyed by fileName.
	entries map[string]*diskEntry
	size    int64
}

// NewDiskCache opens a disk cache in dir, picking up blobs left by a previous
// run.
func NewDiskCache(dir string, maxSize int64) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &DiskCache{
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*diskEntry),
	}
	if err := c.scan(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *DiskCache) scan() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("scan cache dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(c.dir, name))
			continue
		}
		if !isFileName(name) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		c.entries[name] = &diskEntry{
			path:       filepath.Join(c.dir, name),
			size:       info.Size(),
			lastAccess: info.ModTime(),
		}
		c.size += info.Size()
	}
	return nil
}

// Get returns the cached blob for id.
func (c *DiskCache) Get(id string) ([]byte, bool) {
	key := fileName(id)
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		entry.lastAccess = time.Now()
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(entry.path)
	if err != nil {
		c.evict(key)
		return nil, false
	}
	return data, true
}

// Put stores data under id. Content is written atomically (temp file then
// rename). Blobs larger than the whole cache are not stored.
func (c *DiskCache) Put(id string, data []byte) error {
	size := int64(len(data))
	if size > c.maxSize {
		return nil
	}

	key := fileName(id)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return nil
	}

	for c.size+size > c.maxSize {
		if !c.evictOldest() {
			break
		}
	}

	localPath := filepath.Join(c.dir, key)
	tempPath := localPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	_, err = bytes.NewReader(data).WriteTo(f)
	f.Close()
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("write content: %w", err)
	}

	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	c.entries[key] = &diskEntry{
		path:       localPath,
		size:       size,
		lastAccess: time.Now(),
	}
	c.size += size
	return nil
}

// evict drops the entry for key, used when its file has gone missing.
func (c *DiskCache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return
	}
	os.Remove(entry.path)
	c.size -= entry.size
	delete(c.entries, key)
}

// evictOldest removes the least recently accessed blob.
// Must be called with lock held.
func (c *DiskCache) evictOldest() bool {
	var oldest *diskEntry
	var oldestKey string

	for key, entry := range c.entries {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldest = entry
			oldestKey = key
		}
	}
	if oldest == nil {
		return false
	}

	os.Remove(oldest.path)
	c.size -= oldest.size
	delete(c.entries, oldestKey)
	return true
}

// Stats returns cache statistics.
func (c *DiskCache) Stats() (size, maxSize int64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size, c.maxSize, len(c.entries)
}
