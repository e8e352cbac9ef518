package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shatterbird/birdfs/pkg/models"
)

func infoNode(id string) *models.Node {
	return &models.Node{NodeInfo: models.NodeInfo{ID: models.ID{OID: id}, Kind: models.KindText}}
}

func fullNode(id string) *models.Node {
	n := infoNode(id)
	n.Content = &models.Content{Text: &models.TextContent{Size: 2, Lines: []models.Line{{Text: "hi"}}}}
	return n
}

func TestStore_CompletenessIsMonotonic(t *testing.T) {
	s := NewStore()
	id := models.ID{OID: "n1"}

	if _, level := s.Node(id); level != LevelNone {
		t.Fatalf("empty store level = %v", level)
	}

	s.PutNode(infoNode("n1"))
	if _, level := s.Node(id); level != LevelInfo {
		t.Fatalf("after info put: level = %v", level)
	}

	s.PutNode(fullNode("n1"))
	if _, level := s.Node(id); level != LevelFull {
		t.Fatalf("after full put: level = %v", level)
	}

	got := s.PutNode(infoNode("n1"))
	if !got.Full() {
		t.Error("PutNode should return the retained full entry")
	}
	if _, level := s.Node(id); level != LevelFull {
		t.Fatalf("info put downgraded entry to %v", level)
	}
	if _, ok := s.FullNode(id); !ok {
		t.Error("FullNode missed a full entry")
	}
}

func TestStore_Commits(t *testing.T) {
	s := NewStore()
	if _, ok := s.Commit("abc"); ok {
		t.Fatal("unexpected hit")
	}
	s.PutCommit(&models.Commit{OID: "abc", Root: models.ID{OID: "r"}})
	c, ok := s.Commit("abc")
	if !ok || c.Root.OID != "r" {
		t.Fatalf("Commit = %+v, %v", c, ok)
	}

	s.PutCommit(&models.Commit{})
	if n, _, _ := s.Stats(); n != 1 {
		t.Errorf("commit without oid was cached, count = %d", n)
	}
}

func TestStore_ConcurrentPuts(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); s.PutNode(infoNode("n")) }()
		go func() { defer wg.Done(); s.PutNode(fullNode("n")) }()
	}
	wg.Wait()

	if _, level := s.Node(models.ID{OID: "n"}); level != LevelFull {
		t.Errorf("level = %v, want full", level)
	}
}

func TestDiskCache_PutAndGet(t *testing.T) {
	dir := t.TempDir()
	c, err := NewDiskCache(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	content := []byte("hello world")
	if err := c.Put("b1", content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, fileName("b1")))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("on disk: got %q, want %q", data, content)
	}

	got, ok := c.Get("b1")
	if !ok || !bytes.Equal(got, content) {
		t.Errorf("Get = %q, %v", got, ok)
	}
}

func TestDiskCache_IDsStayInsideDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "cache")
	c, err := NewDiskCache(dir, 1<<20)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	for _, id := range []string{"../escaped", "../../etc/x", "a/b", "/abs"} {
		if err := c.Put(id, []byte(id)); err != nil {
			t.Fatalf("Put(%q): %v", id, err)
		}
		if got, ok := c.Get(id); !ok || string(got) != id {
			t.Errorf("Get(%q) = %q, %v", id, got, ok)
		}
	}

	if _, err := os.Stat(filepath.Join(base, "escaped")); !os.IsNotExist(err) {
		t.Error("blob written outside the cache directory")
	}
	baseEntries, _ := os.ReadDir(base)
	if len(baseEntries) != 1 {
		t.Errorf("base dir holds %d entries, want only the cache dir", len(baseEntries))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 4 {
		t.Errorf("cache dir holds %d files, want 4", len(entries))
	}
	for _, e := range entries {
		if !isFileName(e.Name()) {
			t.Errorf("unexpected file %q", e.Name())
		}
	}
}

func TestDiskCache_EvictsOldest(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	c.Put("a", []byte("aaaaa"))
	c.Put("b", []byte("bbbbb"))
	c.Get("a")
	c.Put("c", []byte("ccccc"))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used blob should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently read blob was evicted")
	}
	if size, _, count := c.Stats(); size != 10 || count != 2 {
		t.Errorf("Stats = %d bytes, %d entries", size, count)
	}
}

func TestDiskCache_SkipsOversized(t *testing.T) {
	c, err := NewDiskCache(t.TempDir(), 4)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	if err := c.Put("big", []byte("too large")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get("big"); ok {
		t.Error("oversized blob should not be cached")
	}
}

func TestDiskCache_Reopen(t *testing.T) {
	dir := t.TempDir()
	c, _ := NewDiskCache(dir, 1<<20)
	c.Put("b1", []byte("persisted"))
	os.WriteFile(filepath.Join(dir, "junk.tmp"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "stray"), []byte("x"), 0644)

	c2, err := NewDiskCache(dir, 1<<20)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got, ok := c2.Get("b1"); !ok || string(got) != "persisted" {
		t.Errorf("Get after reopen = %q, %v", got, ok)
	}
	if _, err := os.Stat(filepath.Join(dir, "junk.tmp")); !os.IsNotExist(err) {
		t.Error("stale temp file not cleaned up")
	}
	if _, _, count := c2.Stats(); count != 1 {
		t.Errorf("count = %d, want only the cached blob", count)
	}
}

func TestBlobCache_PromotesFromDisk(t *testing.T) {
	disk, _ := NewDiskCache(t.TempDir(), 1<<20)
	disk.Put("b1", []byte("blob"))

	c, err := NewBlobCache(4, disk)
	if err != nil {
		t.Fatalf("NewBlobCache: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Len = %d", c.Len())
	}
	if got, ok := c.Get("b1"); !ok || string(got) != "blob" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("disk hit not promoted, Len = %d", c.Len())
	}
}

func TestBlobCache_Disabled(t *testing.T) {
	c, err := NewBlobCache(0, nil)
	if err != nil {
		t.Fatalf("NewBlobCache: %v", err)
	}
	c.Put("b1", []byte("x"))
	if _, ok := c.Get("b1"); ok {
		t.Error("disabled cache returned a hit")
	}

	var nilCache *BlobCache
	if _, ok := nilCache.Get("b1"); ok {
		t.Error("nil cache returned a hit")
	}
}
