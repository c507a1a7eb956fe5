package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/papyrus-search/papyrus/internal/indexer/merge"
	apperrors "github.com/papyrus-search/papyrus/pkg/errors"
)

func barrelDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		writeBarrel(t, dir, i, fmt.Sprintf("barrel %d contents", i))
	}
	return dir
}

func writeBarrel(t *testing.T, dir string, id int, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, merge.BarrelName(id)), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing barrel %d: %v", id, err)
	}
}

func mustGet(t *testing.T, c *BarrelCache, id int) *Handle {
	t.Helper()
	h, err := c.Get(id)
	if err != nil {
		t.Fatalf("Get(%d): %v", id, err)
	}
	return h
}

func TestCacheGet(t *testing.T) {
	c := NewBarrelCache(barrelDir(t, 2), 2, nil)
	h := mustGet(t, c, 0)
	defer h.Release()
	if string(h.Bytes()) != "barrel 0 contents" {
		t.Errorf("Bytes = %q", h.Bytes())
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheHitServesResidentCopy(t *testing.T) {
	dir := barrelDir(t, 1)
	c := NewBarrelCache(dir, 1, nil)
	mustGet(t, c, 0).Release()

	// A resident barrel is not re-read even when the file changes.
	writeBarrel(t, dir, 0, "rewritten")
	h := mustGet(t, c, 0)
	defer h.Release()
	if string(h.Bytes()) != "barrel 0 contents" {
		t.Errorf("Bytes = %q, want the cached copy", h.Bytes())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	dir := barrelDir(t, 3)
	c := NewBarrelCache(dir, 2, nil)
	mustGet(t, c, 0).Release()
	mustGet(t, c, 1).Release()
	mustGet(t, c, 0).Release() // 1 is now least recently used
	mustGet(t, c, 2).Release() // evicts 1
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	// Barrel 1 was evicted, so its rewritten file is read back. Barrel 0
	// stayed resident.
	writeBarrel(t, dir, 0, "rewritten 0")
	writeBarrel(t, dir, 1, "rewritten 1")
	h0 := mustGet(t, c, 0)
	if string(h0.Bytes()) != "barrel 0 contents" {
		t.Errorf("barrel 0 = %q, want the cached copy", h0.Bytes())
	}
	h0.Release()
	h1 := mustGet(t, c, 1)
	if string(h1.Bytes()) != "rewritten 1" {
		t.Errorf("barrel 1 = %q, want the rewritten file", h1.Bytes())
	}
	h1.Release()
}

func TestCachePinnedBarrelSurvivesEviction(t *testing.T) {
	dir := barrelDir(t, 3)
	c := NewBarrelCache(dir, 1, nil)
	h := mustGet(t, c, 0)
	mustGet(t, c, 1).Release()
	mustGet(t, c, 2).Release()

	// Barrel 0 is pinned; capacity overflows rather than dropping it.
	writeBarrel(t, dir, 0, "rewritten 0")
	again := mustGet(t, c, 0)
	if string(again.Bytes()) != "barrel 0 contents" {
		t.Errorf("pinned barrel was evicted: %q", again.Bytes())
	}
	again.Release()
	h.Release()

	// Unpinned, it is evictable again.
	mustGet(t, c, 1).Release()
	mustGet(t, c, 2).Release()
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheReleaseIdempotent(t *testing.T) {
	c := NewBarrelCache(barrelDir(t, 2), 1, nil)
	h := mustGet(t, c, 0)
	h.Release()
	h.Release()
	// A double release must not free the slot twice; the next load still
	// evicts cleanly.
	mustGet(t, c, 1).Release()
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheMissingBarrel(t *testing.T) {
	c := NewBarrelCache(barrelDir(t, 1), 2, nil)
	if _, err := c.Get(7); !errors.Is(err, apperrors.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}

func TestCachePreload(t *testing.T) {
	c := NewBarrelCache(barrelDir(t, 3), 3, nil)
	if err := c.Preload([]int{0, 1, 2}); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
}

func TestCachePreloadMissing(t *testing.T) {
	c := NewBarrelCache(barrelDir(t, 1), 2, nil)
	if err := c.Preload([]int{0, 5}); !errors.Is(err, apperrors.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}

func TestCacheDefaultCapacity(t *testing.T) {
	c := NewBarrelCache(barrelDir(t, 2), 0, nil)
	mustGet(t, c, 0).Release()
	mustGet(t, c, 1).Release()
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
