package render

import (
	"fmt"
	"image"
	"sync"

	"github.com/golang/groupcache/lru"

	"segviewer/internal/models"
)

// Cache memoizes rendered images keyed by the generation of the source volume
// and the view parameters. A generation is never republished with different
// content, so entries never need invalidation; stale generations are evicted
// as least recently used.
//
// Cached images are shared between callers and must not be modified.
type Cache struct {
	r *Renderer

	mu     sync.Mutex
	lru    *lru.Cache
	hits   uint64
	misses uint64
}

// NewCache wraps r with a cache holding up to entries images. A non-positive
// size returns a cache that always renders.
func NewCache(r *Renderer, entries int) *Cache {
	c := &Cache{r: r}
	if entries > 0 {
		c.lru = lru.New(entries)
	}
	return c
}

type cacheKey struct {
	kind       string
	generation uint64
	params     models.ViewParams
}

func (c *Cache) get(key cacheKey) (image.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return v.(image.Image), true
}

func (c *Cache) add(key cacheKey, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, img)
}

// Base renders through the cache
func (c *Cache) Base(scan *models.Volume, generation uint64, p models.ViewParams) *image.RGBA {
	if c.lru == nil || scan == nil {
		return c.r.Base(scan, p)
	}
	p.Resolution = resolution(p)
	key := cacheKey{kind: "base", generation: generation, params: p}
	if img, ok := c.get(key); ok {
		return img.(*image.RGBA)
	}
	img := c.r.Base(scan, p)
	c.add(key, img)
	return img
}

// Overlay renders through the cache
func (c *Cache) Overlay(segm *models.Volume, generation uint64, p models.ViewParams) *image.NRGBA {
	if c.lru == nil || segm == nil {
		return c.r.Overlay(segm, p)
	}
	p.Resolution = resolution(p)
	p.Phase = 0 // segmentations have no phase axis
	key := cacheKey{kind: "overlay", generation: generation, params: p}
	if img, ok := c.get(key); ok {
		return img.(*image.NRGBA)
	}
	img := c.r.Overlay(segm, p)
	c.add(key, img)
	return img
}

// Stats reports cache hits and misses
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) String() string {
	hits, misses := c.Stats()
	return fmt.Sprintf("render cache: %d hits, %d misses", hits, misses)
}
